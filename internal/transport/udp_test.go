package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportDiscoversClientViaPing(t *testing.T) {
	tr, err := New(zerolog.Nop(), KindVideo, 0)
	require.NoError(t, err)

	port := tr.conn.LocalAddr().(*net.UDPAddr).Port
	client, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx, 100*time.Millisecond) }()

	_, err = client.Write([]byte("PING"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return tr.getClientAddr() != nil
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestTransportSendDropsUntilClientKnown(t *testing.T) {
	tr, err := New(zerolog.Nop(), KindAudio, 0)
	require.NoError(t, err)
	defer tr.conn.Close()

	tr.Send([]byte("payload"))
	assert.Nil(t, tr.getClientAddr())
}

func TestSendDropsOldestWhenQueueFull(t *testing.T) {
	tr, err := New(zerolog.Nop(), KindVideo, 0)
	require.NoError(t, err)
	defer tr.conn.Close()

	tr.setClientAddr(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1})

	capacity := cap(tr.sendQueue)
	for i := 0; i < capacity; i++ {
		tr.sendQueue <- []byte{byte(i)}
	}

	tr.Send([]byte("newest"))

	assert.Equal(t, capacity, len(tr.sendQueue))
	oldest := <-tr.sendQueue
	assert.Equal(t, []byte{1}, oldest) // item 0 was dropped to make room
}

func TestTransportDeliversAfterDiscovery(t *testing.T) {
	tr, err := New(zerolog.Nop(), KindVideo, 0)
	require.NoError(t, err)

	port := tr.conn.LocalAddr().(*net.UDPAddr).Port
	client, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx, 100*time.Millisecond) }()
	defer func() {
		cancel()
		<-done
	}()

	_, err = client.Write([]byte("PING"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return tr.getClientAddr() != nil
	}, time.Second, 10*time.Millisecond)

	tr.Send([]byte("hello"))

	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 64)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}
