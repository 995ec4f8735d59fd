// Package fec implements systematic Reed-Solomon erasure coding over
// GF(2^8), used to generate and recover the parity shards of a video
// frame's packetization.
package fec

import (
	"errors"
	"sync"
)

const (
	gfBits = 8
	gfPP   = "101110001"
	gfSize = (1 << gfBits) - 1

	// DataShardsMax is the GF(2^8) codec's hard ceiling on data+parity
	// shards for a single block.
	DataShardsMax = 255
)

var (
	ErrTooManyShards    = errors.New("fec: too many shards")
	ErrNotEnoughShards  = errors.New("fec: not enough shards for reconstruction")
	ErrInvalidShardSize = errors.New("fec: invalid shard size")
)

type gf = uint8

var (
	gfExp      [2 * gfSize]gf
	gfLog      [gfSize + 1]int
	gfInverse  [gfSize + 1]gf
	gfMulTable [(gfSize + 1) * (gfSize + 1)]gf

	initOnce sync.Once
)

// Codec is a Reed-Solomon encoder/decoder fixed to one (dataShards,
// parityShards) shape.
type Codec struct {
	dataShards   int
	parityShards int
	totalShards  int
	matrix       []gf
	parity       []gf
}

func initTables() {
	initOnce.Do(func() {
		generateGF()
		initMulTable()
	})
}

// New builds a Codec for the given shard counts. dataShards+parityShards
// must not exceed DataShardsMax.
func New(dataShards, parityShards int) (*Codec, error) {
	initTables()

	total := dataShards + parityShards
	if total > DataShardsMax || dataShards <= 0 || parityShards <= 0 {
		return nil, ErrTooManyShards
	}

	c := &Codec{dataShards: dataShards, parityShards: parityShards, totalShards: total}

	vm := make([]gf, dataShards*total)
	for row := 0; row < total; row++ {
		for col := 0; col < dataShards; col++ {
			if row == col {
				vm[row*dataShards+col] = 1
			}
		}
	}

	top := subMatrix(vm, 0, 0, dataShards, dataShards, dataShards)
	if err := invertMatrix(top, dataShards); err != nil {
		return nil, err
	}

	c.matrix = multiply(vm, total, dataShards, top, dataShards)

	for j := 0; j < parityShards; j++ {
		for i := 0; i < dataShards; i++ {
			c.matrix[(dataShards+j)*dataShards+i] = gfInverse[(parityShards+i)^j]
		}
	}

	c.parity = subMatrix(c.matrix, dataShards, 0, total, dataShards, dataShards)

	return c, nil
}

// DataShards returns the configured data shard count.
func (c *Codec) DataShards() int { return c.dataShards }

// ParityShards returns the configured parity shard count.
func (c *Codec) ParityShards() int { return c.parityShards }

// TotalShards returns dataShards+parityShards.
func (c *Codec) TotalShards() int { return c.totalShards }

// Encode fills the parity shards (indices [dataShards:totalShards)) of
// shards from its data shards. All shards must already be allocated and
// of equal length.
func (c *Codec) Encode(shards [][]byte) error {
	if len(shards) != c.totalShards {
		return ErrInvalidShardSize
	}

	blockSize := len(shards[0])
	for _, s := range shards {
		if len(s) != blockSize {
			return ErrInvalidShardSize
		}
	}

	codeSomeShards(c.parity, shards[:c.dataShards], shards[c.dataShards:], c.dataShards, c.parityShards, blockSize)
	return nil
}

// Reconstruct recovers missing data shards (those marked false in
// present) using whatever parity shards are available. shards entries
// for missing data shards are allocated and filled in place.
func (c *Codec) Reconstruct(shards [][]byte, present []bool) error {
	if len(shards) != c.totalShards || len(present) != c.totalShards {
		return ErrInvalidShardSize
	}

	blockSize := 0
	for i, s := range shards {
		if present[i] {
			if blockSize == 0 {
				blockSize = len(s)
			} else if len(s) != blockSize {
				return ErrInvalidShardSize
			}
		}
	}
	if blockSize == 0 {
		return ErrNotEnoughShards
	}

	var missingData []int
	for i := 0; i < c.dataShards; i++ {
		if !present[i] {
			missingData = append(missingData, i)
		}
	}
	if len(missingData) == 0 {
		return nil
	}

	var availableParity []int
	var parityData [][]byte
	for i := c.dataShards; i < c.totalShards && len(availableParity) < len(missingData); i++ {
		if present[i] {
			availableParity = append(availableParity, i-c.dataShards)
			parityData = append(parityData, shards[i])
		}
	}
	if len(availableParity) < len(missingData) {
		return ErrNotEnoughShards
	}

	decodeMatrix := make([]gf, c.dataShards*c.dataShards)
	subShards := make([][]byte, c.dataShards)
	subMatrixRow := 0
	missingIdx := 0

	for i := 0; i < c.dataShards; i++ {
		if missingIdx < len(missingData) && i == missingData[missingIdx] {
			missingIdx++
			continue
		}
		copy(decodeMatrix[subMatrixRow*c.dataShards:(subMatrixRow+1)*c.dataShards], c.matrix[i*c.dataShards:(i+1)*c.dataShards])
		subShards[subMatrixRow] = shards[i]
		subMatrixRow++
	}

	for i := 0; i < len(missingData) && subMatrixRow < c.dataShards; i++ {
		j := c.dataShards + availableParity[i]
		copy(decodeMatrix[subMatrixRow*c.dataShards:(subMatrixRow+1)*c.dataShards], c.matrix[j*c.dataShards:(j+1)*c.dataShards])
		subShards[subMatrixRow] = parityData[i]
		subMatrixRow++
	}

	if err := invertMatrix(decodeMatrix, c.dataShards); err != nil {
		return err
	}

	outputs := make([][]byte, len(missingData))
	recoverMatrix := make([]gf, len(missingData)*c.dataShards)
	for i, idx := range missingData {
		if shards[idx] == nil {
			shards[idx] = make([]byte, blockSize)
		}
		outputs[i] = shards[idx]
		copy(recoverMatrix[i*c.dataShards:(i+1)*c.dataShards], decodeMatrix[idx*c.dataShards:(idx+1)*c.dataShards])
	}

	codeSomeShards(recoverMatrix, subShards, outputs, c.dataShards, len(missingData), blockSize)
	return nil
}

func modnn(x int) gf {
	for x >= gfSize {
		x -= gfSize
		x = (x >> gfBits) + (x & gfSize)
	}
	return gf(x)
}

func generateGF() {
	var mask gf = 1
	gfExp[gfBits] = 0

	for i := 0; i < gfBits; i++ {
		gfExp[i] = mask
		gfLog[gfExp[i]] = i
		if gfPP[i] == '1' {
			gfExp[gfBits] ^= mask
		}
		mask <<= 1
	}

	gfLog[gfExp[gfBits]] = gfBits
	mask = 1 << (gfBits - 1)

	for i := gfBits + 1; i < gfSize; i++ {
		if gfExp[i-1] >= mask {
			gfExp[i] = gfExp[gfBits] ^ ((gfExp[i-1] ^ mask) << 1)
		} else {
			gfExp[i] = gfExp[i-1] << 1
		}
		gfLog[gfExp[i]] = i
	}

	gfLog[0] = gfSize

	for i := 0; i < gfSize; i++ {
		gfExp[i+gfSize] = gfExp[i]
	}

	gfInverse[0] = 0
	gfInverse[1] = 1
	for i := 2; i <= gfSize; i++ {
		gfInverse[i] = gfExp[gfSize-gfLog[i]]
	}
}

func initMulTable() {
	for i := 0; i < gfSize+1; i++ {
		for j := 0; j < gfSize+1; j++ {
			gfMulTable[(i<<8)+j] = gfExp[modnn(gfLog[i]+gfLog[j])]
		}
	}
	for j := 0; j < gfSize+1; j++ {
		gfMulTable[j] = 0
		gfMulTable[j<<8] = 0
	}
}

func gfMul(x, y gf) gf {
	return gfMulTable[(int(x)<<8)+int(y)]
}

func addmul(dst, src []gf, c gf) {
	if c == 0 {
		return
	}
	t := gfMulTable[int(c)<<8:]
	for i := range dst {
		dst[i] ^= t[src[i]]
	}
}

func mul(dst, src []gf, c gf) {
	if c == 0 {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	t := gfMulTable[int(c)<<8:]
	for i := range dst {
		dst[i] = t[src[i]]
	}
}

func invertMatrix(src []gf, k int) error {
	indxc := make([]int, k)
	indxr := make([]int, k)
	ipiv := make([]int, k)
	idRow := make([]gf, k)

	for col := 0; col < k; col++ {
		irow, icol := -1, -1

		if ipiv[col] != 1 && src[col*k+col] != 0 {
			irow, icol = col, col
		} else {
			for row := 0; row < k && icol == -1; row++ {
				if ipiv[row] != 1 {
					for ix := 0; ix < k; ix++ {
						if ipiv[ix] == 0 && src[row*k+ix] != 0 {
							irow, icol = row, ix
							break
						}
					}
				}
			}
		}
		if icol == -1 {
			return errors.New("fec: singular matrix")
		}

		ipiv[icol]++

		if irow != icol {
			for ix := 0; ix < k; ix++ {
				src[irow*k+ix], src[icol*k+ix] = src[icol*k+ix], src[irow*k+ix]
			}
		}

		indxr[col] = irow
		indxc[col] = icol

		pivotRow := src[icol*k : (icol+1)*k]
		c := pivotRow[icol]
		if c == 0 {
			return errors.New("fec: singular matrix")
		}
		if c != 1 {
			c = gfInverse[c]
			pivotRow[icol] = 1
			for ix := 0; ix < k; ix++ {
				pivotRow[ix] = gfMul(c, pivotRow[ix])
			}
		}

		idRow[icol] = 1
		pivotIsIdentity := true
		for ix := 0; ix < k; ix++ {
			if pivotRow[ix] != idRow[ix] {
				pivotIsIdentity = false
				break
			}
		}
		if !pivotIsIdentity {
			for ix := 0; ix < k; ix++ {
				if ix != icol {
					p := src[ix*k : (ix+1)*k]
					pc := p[icol]
					p[icol] = 0
					addmul(p, pivotRow, pc)
				}
			}
		}
		idRow[icol] = 0
	}

	for col := k - 1; col >= 0; col-- {
		if indxr[col] != indxc[col] {
			for row := 0; row < k; row++ {
				src[row*k+indxr[col]], src[row*k+indxc[col]] = src[row*k+indxc[col]], src[row*k+indxr[col]]
			}
		}
	}

	return nil
}

func subMatrix(matrix []gf, rmin, cmin, rmax, cmax, ncols int) []gf {
	out := make([]gf, (rmax-rmin)*(cmax-cmin))
	ptr := 0
	for i := rmin; i < rmax; i++ {
		for j := cmin; j < cmax; j++ {
			out[ptr] = matrix[i*ncols+j]
			ptr++
		}
	}
	return out
}

func multiply(a []gf, ar, ac int, b []gf, bc int) []gf {
	out := make([]gf, ar*bc)
	for r := 0; r < ar; r++ {
		for c := 0; c < bc; c++ {
			var acc gf
			for i := 0; i < ac; i++ {
				acc ^= gfMul(a[r*ac+i], b[i*bc+c])
			}
			out[r*bc+c] = acc
		}
	}
	return out
}

func codeSomeShards(matrixRows []gf, inputs, outputs [][]byte, dataShards, outputCount, byteCount int) {
	_ = byteCount
	for c := 0; c < dataShards; c++ {
		in := inputs[c]
		for row := 0; row < outputCount; row++ {
			if c == 0 {
				mul(outputs[row], in, matrixRows[row*dataShards+c])
			} else {
				addmul(outputs[row], in, matrixRows[row*dataShards+c])
			}
		}
	}
}
