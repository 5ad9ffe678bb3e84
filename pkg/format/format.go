// On-disk format for AegisFS: superblock, inode, and directory entry
// codecs. Everything on the wire is little-endian.
package format

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Magic is the marker stored at the start of every AegisFS superblock.
var Magic = [8]byte{'A', 'E', 'G', 'I', 'S', 'F', 'S', 0}

const (
	// Version is the current on-disk format version.
	Version uint32 = 1

	// DefaultBlockSize is used when format is not given an explicit size.
	DefaultBlockSize uint32 = 4096

	// MinBlockSize and MaxBlockSize bound the accepted power-of-two sizes.
	MinBlockSize uint32 = 512
	MaxBlockSize uint32 = 65536

	// InodeSize is the fixed size of an on-disk inode record: 60 bytes of
	// fixed fields, 80 bytes of block pointers, 20 reserved.
	InodeSize = 160

	// InodeBytesRatio sizes the inode table: one inode per 32 KiB of device.
	InodeBytesRatio = 32 * 1024

	// RootInode is the identifier of the root directory; 0 means "none".
	RootInode uint64 = 1

	// SuperblockSize is the number of encoded superblock bytes; the rest of
	// block 0 is zero padding.
	SuperblockSize = 8 + 4 + 8 + 4 + 8 + 8 + 8 + 8 + 8 + 8 + 8 + 16 + 64

	// MaxNameLen bounds a single directory entry name.
	MaxNameLen = 255
)

// Block pointer slots within an inode.
const (
	NumDirect     = 8
	SingleIndSlot = 8
	DoubleIndSlot = 9
	NumPtrs       = 10
)

// File-type bits stored in Inode.Mode, mirroring the POSIX encoding.
const (
	ModeTypeMask uint32 = 0o170000
	ModeDir      uint32 = 0o040000
	ModeRegular  uint32 = 0o100000
	ModeSymlink  uint32 = 0o120000
)

// Directory entry file-type hints.
const (
	FileTypeUnknown uint8 = 0
	FileTypeRegular uint8 = 1
	FileTypeDir     uint8 = 2
	FileTypeSymlink uint8 = 7
)

var (
	ErrBadMagic   = fmt.Errorf("superblock magic mismatch")
	ErrBadVersion = fmt.Errorf("unsupported filesystem version")
	ErrShortBlock = fmt.Errorf("buffer smaller than encoded structure")
	ErrBadName    = fmt.Errorf("invalid entry name")
)

// Superblock is the first block of every AegisFS device.
type Superblock struct {
	Version    uint32
	Size       uint64
	BlockSize  uint32
	BlockCount uint64
	FreeBlocks uint64
	InodeCount uint64
	FreeInodes uint64
	RootInode  uint64
	LastMount  uint64
	LastWrite  uint64
	UUID       [16]byte
	VolumeName [64]byte
}

// NewSuperblock builds a superblock for a device of the given byte size. The
// caller fills in the free counters once the layout is known.
func NewSuperblock(size uint64, blockSize uint32, volumeName string) *Superblock {
	sb := &Superblock{
		Version:    Version,
		Size:       size,
		BlockSize:  blockSize,
		BlockCount: size / uint64(blockSize),
		InodeCount: size / InodeBytesRatio,
		RootInode:  RootInode,
	}
	sb.UUID = uuid.New()
	sb.SetVolumeName(volumeName)
	return sb
}

// SetVolumeName stores up to 63 bytes of name, NUL padded.
func (sb *Superblock) SetVolumeName(name string) {
	sb.VolumeName = [64]byte{}
	n := len(name)
	if n > 63 {
		n = 63
	}
	copy(sb.VolumeName[:], name[:n])
}

// VolumeNameString returns the volume name without trailing NULs.
func (sb *Superblock) VolumeNameString() string {
	return string(bytes.TrimRight(sb.VolumeName[:], "\x00"))
}

// Encode writes the superblock into buf, which must hold at least
// SuperblockSize bytes. Remaining bytes are left untouched.
func (sb *Superblock) Encode(buf []byte) error {
	if len(buf) < SuperblockSize {
		return ErrShortBlock
	}
	copy(buf[0:8], Magic[:])
	le := binary.LittleEndian
	le.PutUint32(buf[8:], sb.Version)
	le.PutUint64(buf[12:], sb.Size)
	le.PutUint32(buf[20:], sb.BlockSize)
	le.PutUint64(buf[24:], sb.BlockCount)
	le.PutUint64(buf[32:], sb.FreeBlocks)
	le.PutUint64(buf[40:], sb.InodeCount)
	le.PutUint64(buf[48:], sb.FreeInodes)
	le.PutUint64(buf[56:], sb.RootInode)
	le.PutUint64(buf[64:], sb.LastMount)
	le.PutUint64(buf[72:], sb.LastWrite)
	copy(buf[80:96], sb.UUID[:])
	copy(buf[96:160], sb.VolumeName[:])
	return nil
}

// DecodeSuperblock parses buf, validating magic and version.
func DecodeSuperblock(buf []byte) (*Superblock, error) {
	if len(buf) < SuperblockSize {
		return nil, ErrShortBlock
	}
	if !bytes.Equal(buf[0:8], Magic[:]) {
		return nil, ErrBadMagic
	}
	le := binary.LittleEndian
	sb := &Superblock{
		Version:    le.Uint32(buf[8:]),
		Size:       le.Uint64(buf[12:]),
		BlockSize:  le.Uint32(buf[20:]),
		BlockCount: le.Uint64(buf[24:]),
		FreeBlocks: le.Uint64(buf[32:]),
		InodeCount: le.Uint64(buf[40:]),
		FreeInodes: le.Uint64(buf[48:]),
		RootInode:  le.Uint64(buf[56:]),
		LastMount:  le.Uint64(buf[64:]),
		LastWrite:  le.Uint64(buf[72:]),
	}
	copy(sb.UUID[:], buf[80:96])
	copy(sb.VolumeName[:], buf[96:160])
	if sb.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, sb.Version)
	}
	return sb, nil
}

// HasValidMagic reports whether buf starts with the AegisFS marker, without
// decoding the rest. Used by format to refuse re-formatting.
func HasValidMagic(buf []byte) bool {
	return len(buf) >= 8 && bytes.Equal(buf[0:8], Magic[:])
}

// Inode is the 160-byte on-disk record describing one file or directory.
//
// Pointer slots: Ptr[0..8) are direct data blocks, Ptr[8] a single-indirect
// block of pointers, Ptr[9] a double-indirect block of single-indirect
// pointers. All block numbers are absolute; 0 means unmapped.
type Inode struct {
	Mode  uint32
	UID   uint32
	GID   uint32
	Size  uint64
	Atime uint64
	Mtime uint64
	Ctime uint64
	Links uint16
	// Blocks counts allocated 512-byte units.
	Blocks uint64
	Flags  uint32
	Ptr    [NumPtrs]uint64
}

func (in *Inode) IsDir() bool     { return in.Mode&ModeTypeMask == ModeDir }
func (in *Inode) IsRegular() bool { return in.Mode&ModeTypeMask == ModeRegular }

// FileType returns the directory-entry hint for this inode's type.
func (in *Inode) FileType() uint8 {
	switch in.Mode & ModeTypeMask {
	case ModeDir:
		return FileTypeDir
	case ModeRegular:
		return FileTypeRegular
	case ModeSymlink:
		return FileTypeSymlink
	}
	return FileTypeUnknown
}

// Encode writes the inode into buf, which must hold InodeSize bytes.
func (in *Inode) Encode(buf []byte) error {
	if len(buf) < InodeSize {
		return ErrShortBlock
	}
	le := binary.LittleEndian
	le.PutUint32(buf[0:], in.Mode)
	le.PutUint32(buf[4:], in.UID)
	le.PutUint32(buf[8:], in.GID)
	le.PutUint64(buf[12:], in.Size)
	le.PutUint64(buf[20:], in.Atime)
	le.PutUint64(buf[28:], in.Mtime)
	le.PutUint64(buf[36:], in.Ctime)
	le.PutUint16(buf[44:], in.Links)
	le.PutUint16(buf[46:], 0)
	le.PutUint64(buf[48:], in.Blocks)
	le.PutUint32(buf[56:], in.Flags)
	for i, p := range in.Ptr {
		le.PutUint64(buf[60+i*8:], p)
	}
	for i := 60 + NumPtrs*8; i < InodeSize; i++ {
		buf[i] = 0
	}
	return nil
}

// DecodeInode parses an InodeSize-byte record.
func DecodeInode(buf []byte) (*Inode, error) {
	if len(buf) < InodeSize {
		return nil, ErrShortBlock
	}
	le := binary.LittleEndian
	in := &Inode{
		Mode:   le.Uint32(buf[0:]),
		UID:    le.Uint32(buf[4:]),
		GID:    le.Uint32(buf[8:]),
		Size:   le.Uint64(buf[12:]),
		Atime:  le.Uint64(buf[20:]),
		Mtime:  le.Uint64(buf[28:]),
		Ctime:  le.Uint64(buf[36:]),
		Links:  le.Uint16(buf[44:]),
		Blocks: le.Uint64(buf[48:]),
		Flags:  le.Uint32(buf[56:]),
	}
	for i := range in.Ptr {
		in.Ptr[i] = le.Uint64(buf[60+i*8:])
	}
	return in, nil
}

// DirEntry is one name binding inside a directory's data blocks.
type DirEntry struct {
	Ino      uint64
	FileType uint8
	Name     string
}

// dirEntryHeader is the fixed prefix: ino u64, rec_len u16, name_len u8,
// file_type u8.
const dirEntryHeader = 12

// RecLen returns the on-disk record length of the entry, 4-byte aligned so a
// reader can always step forward safely.
func (e *DirEntry) RecLen() int {
	return recLen(len(e.Name))
}

func recLen(nameLen int) int {
	return (dirEntryHeader + nameLen + 3) &^ 3
}

// EncodeDirEntry writes the entry at buf[0:] and returns its record length.
func EncodeDirEntry(e *DirEntry, buf []byte) (int, error) {
	if len(e.Name) == 0 || len(e.Name) > MaxNameLen {
		return 0, ErrBadName
	}
	rl := e.RecLen()
	if len(buf) < rl {
		return 0, ErrShortBlock
	}
	le := binary.LittleEndian
	le.PutUint64(buf[0:], e.Ino)
	le.PutUint16(buf[8:], uint16(rl))
	buf[10] = uint8(len(e.Name))
	buf[11] = e.FileType
	copy(buf[dirEntryHeader:], e.Name)
	for i := dirEntryHeader + len(e.Name); i < rl; i++ {
		buf[i] = 0
	}
	return rl, nil
}

// DecodeDirEntries walks one directory block and returns the live entries in
// on-disk order. A record with inode 0 or rec_len 0 ends the block.
func DecodeDirEntries(block []byte) ([]DirEntry, error) {
	var out []DirEntry
	le := binary.LittleEndian
	off := 0
	for off+dirEntryHeader <= len(block) {
		ino := le.Uint64(block[off:])
		rl := int(le.Uint16(block[off+8:]))
		if ino == 0 || rl == 0 {
			break
		}
		if rl < dirEntryHeader || off+rl > len(block) {
			return nil, fmt.Errorf("directory entry at offset %d has record length %d", off, rl)
		}
		nameLen := int(block[off+10])
		if dirEntryHeader+nameLen > rl {
			return nil, fmt.Errorf("directory entry at offset %d has name length %d beyond record", off, nameLen)
		}
		out = append(out, DirEntry{
			Ino:      ino,
			FileType: block[off+11],
			Name:     string(block[off+dirEntryHeader : off+dirEntryHeader+nameLen]),
		})
		off += rl
	}
	return out, nil
}
