package partitioninfo

const (
	defaultSectorSize = 512

	mbrSize             = 512
	mbrEntriesOffset    = 446
	mbrEntrySize        = 16
	mbrEntryCount       = 4
	mbrSignature        = 0xAA55
	mbrSignatureOffset  = 510
	gptProtectiveType   = 0xEE
	gptSignature        = "EFI PART"
	gptMinHeaderSize    = 92
	gptMinEntrySize     = 128
	gptMaxEntryArray    = 4 << 20
	defaultMaxChainLink = 128
)

const (
	kb = 1 << 10
	mb = 1 << 20
	gb = 1 << 30
	tb = 1 << 40
	pb = 1 << 50
)

type mbrPartition struct {
	Status      uint8
	_           [3]byte
	Type        uint8
	_           [3]byte
	FirstSector uint32
	Sectors     uint32
}

type mbrStruct struct {
	_          [446]byte
	Partitions [4]mbrPartition
	Signature  uint16
}

type gptHeader struct {
	Signature           [8]byte
	Revision            [4]byte
	HeaderSize          uint32
	CRC32               uint32
	_                   [4]byte
	CurrentLBA          uint64
	BackupLBA           uint64
	FirstUsableLBA      uint64
	LastUsableLBA       uint64
	DiskGUID            [16]byte
	PartitionEntryLBA   uint64
	NumPartEntries      uint32
	PartEntrySize       uint32
	PartEntryArrayCRC32 uint32
}

type gptPartition struct {
	TypeGUID       [16]byte
	UniqueGUID     [16]byte
	FirstLBA       uint64
	LastLBA        uint64
	AttributeFlags uint64
	PartitionName  [72]byte
}
