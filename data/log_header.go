package data

import (
	"bytes"
	"encoding/binary"
	"math"
)

const (
	magicSize   = 16
	releaseSize = 16

	LogHeaderSize        = 184
	LogArchiveHeaderSize = 48

	// BackupLevels 备份级别数量
	BackupLevels = 3
)

var (
	logActiveMagic  = padMagic("walredo:active")
	logArchiveMagic = padMagic("walredo:archive")
)

func padMagic(s string) [magicSize]byte {
	var m [magicSize]byte
	copy(m[:], s)
	return m
}

// LogHeader 活跃日志文件的头信息, 存放在物理页 0
type LogHeader struct {
	DBCreation      int64
	DBRelease       string
	DBCompatibility float32
	IOPageSize      int32
	LogPageSize     int32
	IsShutdown      bool
	NextTranID      int32
	NPages          int32 // 活跃日志的页数, 不含头页
	MVCCNextID      MVCCID
	FirstPageID     int64       // 物理页 1 对应的逻辑页号
	AppendPos       LogPosition // 当前追加位置
	CheckpointPos   LogPosition // 恢复开始的位置

	NextArchivePageID           int64
	NextArchiveNum              int32
	LastArchiveNumForSysCrashes int32
	LastDeletedArchiveNum       int32
	HasLoggingBeenSkipped       bool
	BackupLevelPos              [BackupLevels]LogPosition

	EOFPos                      LogPosition
	SmallestPosAtLastCheckpoint LogPosition
	MVCCOpLogPos                LogPosition
	LastBlockOldestMVCCID       MVCCID
	LastBlockNewestMVCCID       MVCCID
}

// NewLogHeader 新建日志头, 位置字段均为空
func NewLogHeader(pageSize int) *LogHeader {
	h := &LogHeader{
		DBRelease:                   "1.0",
		IOPageSize:                  int32(pageSize),
		LogPageSize:                 int32(pageSize),
		MVCCNextID:                  MVCCIDFirst,
		AppendPos:                   NullPosition,
		CheckpointPos:               NullPosition,
		EOFPos:                      NullPosition,
		SmallestPosAtLastCheckpoint: NullPosition,
		MVCCOpLogPos:                NullPosition,
	}
	for i := range h.BackupLevelPos {
		h.BackupLevelPos[i] = NullPosition
	}
	return h
}

// EncodeLogHeader 对日志头进行编码
func EncodeLogHeader(h *LogHeader) []byte {
	buf := make([]byte, LogHeaderSize)
	copy(buf[0:16], logActiveMagic[:])
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.DBCreation))
	copy(buf[24:40], h.DBRelease)
	binary.LittleEndian.PutUint32(buf[40:44], math.Float32bits(h.DBCompatibility))
	binary.LittleEndian.PutUint32(buf[44:48], uint32(h.IOPageSize))
	binary.LittleEndian.PutUint32(buf[48:52], uint32(h.LogPageSize))
	buf[52] = boolByte(h.IsShutdown)
	binary.LittleEndian.PutUint32(buf[56:60], uint32(h.NextTranID))
	binary.LittleEndian.PutUint32(buf[60:64], uint32(h.NPages))
	binary.LittleEndian.PutUint64(buf[64:72], uint64(h.MVCCNextID))
	binary.LittleEndian.PutUint64(buf[72:80], uint64(h.FirstPageID))
	putPosition(buf[80:88], h.AppendPos)
	putPosition(buf[88:96], h.CheckpointPos)
	binary.LittleEndian.PutUint64(buf[96:104], uint64(h.NextArchivePageID))
	binary.LittleEndian.PutUint32(buf[104:108], uint32(h.NextArchiveNum))
	binary.LittleEndian.PutUint32(buf[108:112], uint32(h.LastArchiveNumForSysCrashes))
	binary.LittleEndian.PutUint32(buf[112:116], uint32(h.LastDeletedArchiveNum))
	buf[116] = boolByte(h.HasLoggingBeenSkipped)
	for i, pos := range h.BackupLevelPos {
		putPosition(buf[120+i*8:128+i*8], pos)
	}
	putPosition(buf[144:152], h.EOFPos)
	putPosition(buf[152:160], h.SmallestPosAtLastCheckpoint)
	putPosition(buf[160:168], h.MVCCOpLogPos)
	binary.LittleEndian.PutUint64(buf[168:176], uint64(h.LastBlockOldestMVCCID))
	binary.LittleEndian.PutUint64(buf[176:184], uint64(h.LastBlockNewestMVCCID))
	return buf
}

// DecodeLogHeader 对日志头进行解码
func DecodeLogHeader(buf []byte) (*LogHeader, error) {
	if len(buf) < LogHeaderSize || !bytes.Equal(buf[0:16], logActiveMagic[:]) {
		return nil, ErrInvalidLogHeader
	}
	h := &LogHeader{
		DBCreation:                  int64(binary.LittleEndian.Uint64(buf[16:24])),
		DBRelease:                   string(bytes.TrimRight(buf[24:40], "\x00")),
		DBCompatibility:             math.Float32frombits(binary.LittleEndian.Uint32(buf[40:44])),
		IOPageSize:                  int32(binary.LittleEndian.Uint32(buf[44:48])),
		LogPageSize:                 int32(binary.LittleEndian.Uint32(buf[48:52])),
		IsShutdown:                  buf[52] != 0,
		NextTranID:                  int32(binary.LittleEndian.Uint32(buf[56:60])),
		NPages:                      int32(binary.LittleEndian.Uint32(buf[60:64])),
		MVCCNextID:                  MVCCID(binary.LittleEndian.Uint64(buf[64:72])),
		FirstPageID:                 int64(binary.LittleEndian.Uint64(buf[72:80])),
		AppendPos:                   getPosition(buf[80:88]),
		CheckpointPos:               getPosition(buf[88:96]),
		NextArchivePageID:           int64(binary.LittleEndian.Uint64(buf[96:104])),
		NextArchiveNum:              int32(binary.LittleEndian.Uint32(buf[104:108])),
		LastArchiveNumForSysCrashes: int32(binary.LittleEndian.Uint32(buf[108:112])),
		LastDeletedArchiveNum:       int32(binary.LittleEndian.Uint32(buf[112:116])),
		HasLoggingBeenSkipped:       buf[116] != 0,
		EOFPos:                      getPosition(buf[144:152]),
		SmallestPosAtLastCheckpoint: getPosition(buf[152:160]),
		MVCCOpLogPos:                getPosition(buf[160:168]),
		LastBlockOldestMVCCID:       MVCCID(binary.LittleEndian.Uint64(buf[168:176])),
		LastBlockNewestMVCCID:       MVCCID(binary.LittleEndian.Uint64(buf[176:184])),
	}
	for i := range h.BackupLevelPos {
		h.BackupLevelPos[i] = getPosition(buf[120+i*8 : 128+i*8])
	}
	return h, nil
}

// LogArchiveHeader 归档日志文件的头信息
type LogArchiveHeader struct {
	DBCreation  int64
	NextTranID  int32
	NPages      int32 // 归档中的页数
	FirstPageID int64 // 物理页 1 对应的逻辑页号
	ArchiveNum  int32
}

// EncodeLogArchiveHeader 对归档头进行编码
func EncodeLogArchiveHeader(h *LogArchiveHeader) []byte {
	buf := make([]byte, LogArchiveHeaderSize)
	copy(buf[0:16], logArchiveMagic[:])
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.DBCreation))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(h.NextTranID))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(h.NPages))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(h.FirstPageID))
	binary.LittleEndian.PutUint32(buf[40:44], uint32(h.ArchiveNum))
	return buf
}

// DecodeLogArchiveHeader 对归档头进行解码
func DecodeLogArchiveHeader(buf []byte) (*LogArchiveHeader, error) {
	if len(buf) < LogArchiveHeaderSize || !bytes.Equal(buf[0:16], logArchiveMagic[:]) {
		return nil, ErrInvalidLogHeader
	}
	return &LogArchiveHeader{
		DBCreation:  int64(binary.LittleEndian.Uint64(buf[16:24])),
		NextTranID:  int32(binary.LittleEndian.Uint32(buf[24:28])),
		NPages:      int32(binary.LittleEndian.Uint32(buf[28:32])),
		FirstPageID: int64(binary.LittleEndian.Uint64(buf[32:40])),
		ArchiveNum:  int32(binary.LittleEndian.Uint32(buf[40:44])),
	}, nil
}

// IsArchiveHeader 判断头页是否属于归档文件
func IsArchiveHeader(buf []byte) bool {
	return len(buf) >= magicSize && bytes.Equal(buf[0:16], logArchiveMagic[:])
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
