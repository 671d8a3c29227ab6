// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binhash

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
	"golang.org/x/sys/unix"
)

// Digest is a 32-byte image digest.
type Digest [32]byte

// imageDomainKey is the BLAKE3 key for executable images: the ASCII
// domain name, zero-padded to 32 bytes. Changing it changes every
// digest.
var imageDomainKey = [32]byte{
	'b', 'u', 'r', 'e', 'a', 'u', '.', 'l', 'a', 'u', 'n', 'c', 'h', 'e', 'r', '.',
	'i', 'm', 'a', 'g', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// HashReader streams reader through the image-domain keyed hash.
func HashReader(reader io.Reader) (Digest, error) {
	hasher, err := blake3.NewKeyed(imageDomainKey[:])
	if err != nil {
		return Digest{}, fmt.Errorf("creating keyed hasher: %w", err)
	}
	if _, err := io.Copy(hasher, reader); err != nil {
		return Digest{}, err
	}
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest, nil
}

// HashFD hashes the full contents of the open descriptor fd. It uses
// positioned reads, so fd's offset is unchanged and fd stays open.
func HashFD(fd int) (Digest, error) {
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return Digest{}, fmt.Errorf("stat of fd %d: %w", fd, err)
	}
	digest, err := HashReader(io.NewSectionReader(ReaderAt(fd), 0, stat.Size))
	if err != nil {
		return Digest{}, fmt.Errorf("hashing fd %d: %w", fd, err)
	}
	return digest, nil
}

// HashFile hashes the file at path.
func HashFile(path string) (Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	digest, err := HashReader(file)
	if err != nil {
		return Digest{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	return digest, nil
}

// ReaderAt adapts a borrowed descriptor to io.ReaderAt using pread.
type ReaderAt int

func (r ReaderAt) ReadAt(buffer []byte, offset int64) (int, error) {
	total := 0
	for total < len(buffer) {
		n, err := unix.Pread(int(r), buffer[total:], offset+int64(total))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.EOF
		}
		total += n
	}
	return total, nil
}

// FormatDigest returns the canonical hex form of digest.
func FormatDigest(digest Digest) string {
	return hex.EncodeToString(digest[:])
}

// ParseDigest parses the hex form produced by FormatDigest.
func ParseDigest(hexString string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return digest, fmt.Errorf("parsing image digest: %w", err)
	}
	if len(decoded) != len(digest) {
		return digest, fmt.Errorf("image digest is %d bytes, want %d", len(decoded), len(digest))
	}
	copy(digest[:], decoded)
	return digest, nil
}
