package main

import "fmt"

// unboundedSize marks a block whose length is unknown; the fetcher reads
// until the connection closes.
const unboundedSize int64 = -1

// block is one contiguous byte range of a remote object, fetched in a
// single request.
type block struct {
	start int64
	size  int64
}

// planBlocks slices the remaining bytes of a transfer into blocks.
//
// When totalSize is unknown (unboundedSize) the whole object is a single
// unbounded block and resume is impossible. When blockSize is zero the file
// is fetched as one block from the start. Otherwise blocks of blockSize
// bytes cover [resumeFrom, totalSize), the last one shrunk to the remainder.
func planBlocks(resumeFrom, totalSize, blockSize int64) ([]block, error) {
	if totalSize == unboundedSize {
		return []block{{start: 0, size: unboundedSize}}, nil
	}
	if blockSize <= 0 {
		return []block{{start: 0, size: totalSize - 1}}, nil
	}
	if resumeFrom > totalSize {
		return nil, fmt.Errorf("resume offset %d exceeds total size %d", resumeFrom, totalSize)
	}

	var blocks []block
	for start := resumeFrom; start < totalSize; start += blockSize {
		size := blockSize
		if start+size > totalSize {
			size = totalSize - start
		}
		blocks = append(blocks, block{start: start, size: size})
	}
	return blocks, nil
}
