package data

import (
	"encoding/binary"
	"fmt"
)

// RecordKind 日志记录的类型
type RecordKind int32

const (
	LogUndefined RecordKind = iota
	LogUndoRedoData
	LogUndoData
	LogRedoData
	LogDBExternRedoData
	LogPostpone
	LogRunPostpone
	LogCompensate
	LogDiffUndoRedoData
	LogMVCCUndoRedoData
	LogMVCCUndoData
	LogMVCCRedoData
	LogMVCCDiffUndoRedoData
	LogCommit
	LogAbort
	LogSysopEnd
	LogStartCheckpoint
	LogEndCheckpoint
	LogDummy
	LogEndOfLog
)

var recordKindNames = map[RecordKind]string{
	LogUndefined:            "undefined",
	LogUndoRedoData:         "undoredo",
	LogUndoData:             "undo",
	LogRedoData:             "redo",
	LogDBExternRedoData:     "dbextern_redo",
	LogPostpone:             "postpone",
	LogRunPostpone:          "run_postpone",
	LogCompensate:           "compensate",
	LogDiffUndoRedoData:     "diff_undoredo",
	LogMVCCUndoRedoData:     "mvcc_undoredo",
	LogMVCCUndoData:         "mvcc_undo",
	LogMVCCRedoData:         "mvcc_redo",
	LogMVCCDiffUndoRedoData: "mvcc_diff_undoredo",
	LogCommit:               "commit",
	LogAbort:                "abort",
	LogSysopEnd:             "sysop_end",
	LogStartCheckpoint:      "start_checkpoint",
	LogEndCheckpoint:        "end_checkpoint",
	LogDummy:                "dummy",
	LogEndOfLog:             "end_of_log",
}

func (k RecordKind) String() string {
	if name, ok := recordKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int32(k))
}

// IsRedoRelevant 是否需要在重做时处理
func (k RecordKind) IsRedoRelevant() bool {
	_, ok := FixedPartSize(k)
	return ok
}

// IsDiff redo 数据是否以与 undo 数据的差异形式存放
func (k RecordKind) IsDiff() bool {
	return k == LogDiffUndoRedoData || k == LogMVCCDiffUndoRedoData
}

// LogRecordHeaderSize prev 8 + back 8 + forw 8 + trid 4 + type 4
const LogRecordHeaderSize = 32

// LogRecordHeader 所有日志记录共同的头部
type LogRecordHeader struct {
	PrevTranPos LogPosition // 同一事务的上一条记录
	BackPos     LogPosition // 上一条记录
	ForwPos     LogPosition // 下一条记录, 用于推进读取位置
	TranID      int32
	Kind        RecordKind
}

// EncodeLogRecordHeader 对记录头进行编码
func EncodeLogRecordHeader(h *LogRecordHeader) []byte {
	buf := make([]byte, LogRecordHeaderSize)
	putPosition(buf[0:8], h.PrevTranPos)
	putPosition(buf[8:16], h.BackPos)
	putPosition(buf[16:24], h.ForwPos)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(h.TranID))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(h.Kind))
	return buf
}

// DecodeLogRecordHeader 对字节数组中的记录头进行解码
func DecodeLogRecordHeader(buf []byte) (*LogRecordHeader, error) {
	if len(buf) < LogRecordHeaderSize {
		return nil, ErrShortFixedPart
	}
	return &LogRecordHeader{
		PrevTranPos: getPosition(buf[0:8]),
		BackPos:     getPosition(buf[8:16]),
		ForwPos:     getPosition(buf[16:24]),
		TranID:      int32(binary.LittleEndian.Uint32(buf[24:28])),
		Kind:        RecordKind(binary.LittleEndian.Uint32(buf[28:32])),
	}, nil
}

// PageAddr 重做的目标位置: 卷号, 页号和页内偏移
type PageAddr struct {
	VolID  int16
	PageID int32
	Offset int16
}

// PageAddrKeySize 页地址作为索引 key 时的长度
const PageAddrKeySize = 6

// Key 返回可排序的索引 key, 偏移不参与
func (a PageAddr) Key() []byte {
	key := make([]byte, PageAddrKeySize)
	binary.BigEndian.PutUint16(key[0:2], uint16(a.VolID)^0x8000)
	binary.BigEndian.PutUint32(key[2:6], uint32(a.PageID)^0x80000000)
	return key
}

// PageAddrFromKey 从索引 key 中还原页地址
func PageAddrFromKey(key []byte) PageAddr {
	return PageAddr{
		VolID:  int16(binary.BigEndian.Uint16(key[0:2]) ^ 0x8000),
		PageID: int32(binary.BigEndian.Uint32(key[2:6]) ^ 0x80000000),
	}
}

func (a PageAddr) String() string {
	return fmt.Sprintf("%d|%d+%d", a.VolID, a.PageID, a.Offset)
}

// RedoFixedPart 可重做记录的定长部分
type RedoFixedPart interface {
	// RcvIndex 选择重做函数的资源类型下标
	RcvIndex() int32

	// Addr 重做的目标位置
	Addr() PageAddr

	// MVCCID 记录的可见性 id, 没有时返回 MVCCIDNull
	MVCCID() MVCCID

	// Encode 编码为日志中的字节
	Encode() []byte
}

const (
	logDataSize            = 12
	redoRecordSize         = 16
	mvccRedoRecordSize     = 24
	undoRedoRecordSize     = 20
	mvccUndoRedoRecordSize = 48
	runPostponeRecordSize  = 24
	compensateRecordSize   = 24
	dbExternRedoRecordSize = 8
)

// FixedPartSize 返回可重做类型的定长部分大小
func FixedPartSize(kind RecordKind) (int, bool) {
	switch kind {
	case LogRedoData:
		return redoRecordSize, true
	case LogMVCCRedoData:
		return mvccRedoRecordSize, true
	case LogUndoRedoData, LogDiffUndoRedoData:
		return undoRedoRecordSize, true
	case LogMVCCUndoRedoData, LogMVCCDiffUndoRedoData:
		return mvccUndoRedoRecordSize, true
	case LogRunPostpone:
		return runPostponeRecordSize, true
	case LogCompensate:
		return compensateRecordSize, true
	case LogDBExternRedoData:
		return dbExternRedoRecordSize, true
	}
	return 0, false
}

// DecodeFixedPart 按类型解码定长部分
func DecodeFixedPart(kind RecordKind, buf []byte) (RedoFixedPart, error) {
	size, ok := FixedPartSize(kind)
	if !ok {
		return nil, ErrNotRedoKind
	}
	if len(buf) < size {
		return nil, ErrShortFixedPart
	}
	switch kind {
	case LogRedoData:
		return decodeRedoRecord(buf), nil
	case LogMVCCRedoData:
		return &MVCCRedoRecord{
			Redo:   *decodeRedoRecord(buf),
			MVCCId: MVCCID(binary.LittleEndian.Uint64(buf[16:24])),
		}, nil
	case LogUndoRedoData, LogDiffUndoRedoData:
		return decodeUndoRedoRecord(buf), nil
	case LogMVCCUndoRedoData, LogMVCCDiffUndoRedoData:
		return &MVCCUndoRedoRecord{
			UndoRedo: *decodeUndoRedoRecord(buf),
			MVCCId:   MVCCID(binary.LittleEndian.Uint64(buf[24:32])),
			Vacuum: VacuumInfo{
				PrevMVCCOpPos: getPosition(buf[32:40]),
				FileID:        int32(binary.LittleEndian.Uint32(buf[40:44])),
				VolID:         int16(binary.LittleEndian.Uint16(buf[44:46])),
			},
		}, nil
	case LogRunPostpone:
		return &RunPostponeRecord{
			Data:   decodeLogData(buf),
			Length: int32(binary.LittleEndian.Uint32(buf[12:16])),
			RefPos: getPosition(buf[16:24]),
		}, nil
	case LogCompensate:
		return &CompensateRecord{
			Data:        decodeLogData(buf),
			Length:      int32(binary.LittleEndian.Uint32(buf[12:16])),
			UndoNextPos: getPosition(buf[16:24]),
		}, nil
	default:
		return &DBExternRedoRecord{
			Index:  int32(binary.LittleEndian.Uint32(buf[0:4])),
			Length: int32(binary.LittleEndian.Uint32(buf[4:8])),
		}, nil
	}
}

// LogData 大多数记录共用的目标描述
type LogData struct {
	RcvIndex int32
	PageID   int32
	Offset   int16
	VolID    int16
}

func (d LogData) addr() PageAddr {
	return PageAddr{VolID: d.VolID, PageID: d.PageID, Offset: d.Offset}
}

func (d LogData) put(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(d.RcvIndex))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(d.PageID))
	binary.LittleEndian.PutUint16(buf[8:10], uint16(d.Offset))
	binary.LittleEndian.PutUint16(buf[10:12], uint16(d.VolID))
}

func decodeLogData(buf []byte) LogData {
	return LogData{
		RcvIndex: int32(binary.LittleEndian.Uint32(buf[0:4])),
		PageID:   int32(binary.LittleEndian.Uint32(buf[4:8])),
		Offset:   int16(binary.LittleEndian.Uint16(buf[8:10])),
		VolID:    int16(binary.LittleEndian.Uint16(buf[10:12])),
	}
}

// RedoRecord 只有 redo 数据的记录
type RedoRecord struct {
	Data   LogData
	Length int32
}

func decodeRedoRecord(buf []byte) *RedoRecord {
	return &RedoRecord{
		Data:   decodeLogData(buf),
		Length: int32(binary.LittleEndian.Uint32(buf[12:16])),
	}
}

func (r *RedoRecord) RcvIndex() int32 { return r.Data.RcvIndex }
func (r *RedoRecord) Addr() PageAddr  { return r.Data.addr() }
func (r *RedoRecord) MVCCID() MVCCID  { return MVCCIDNull }

func (r *RedoRecord) Encode() []byte {
	buf := make([]byte, redoRecordSize)
	r.Data.put(buf)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(r.Length))
	return buf
}

// MVCCRedoRecord 带可见性 id 的 redo 记录
type MVCCRedoRecord struct {
	Redo   RedoRecord
	MVCCId MVCCID
}

func (r *MVCCRedoRecord) RcvIndex() int32 { return r.Redo.Data.RcvIndex }
func (r *MVCCRedoRecord) Addr() PageAddr  { return r.Redo.Data.addr() }
func (r *MVCCRedoRecord) MVCCID() MVCCID  { return r.MVCCId }

func (r *MVCCRedoRecord) Encode() []byte {
	buf := make([]byte, mvccRedoRecordSize)
	copy(buf, r.Redo.Encode())
	binary.LittleEndian.PutUint64(buf[16:24], uint64(r.MVCCId))
	return buf
}

// UndoRedoRecord 先存放 undo 数据, 再存放 redo 数据
type UndoRedoRecord struct {
	Data    LogData
	ULength int32
	RLength int32
}

func decodeUndoRedoRecord(buf []byte) *UndoRedoRecord {
	return &UndoRedoRecord{
		Data:    decodeLogData(buf),
		ULength: int32(binary.LittleEndian.Uint32(buf[12:16])),
		RLength: int32(binary.LittleEndian.Uint32(buf[16:20])),
	}
}

func (r *UndoRedoRecord) RcvIndex() int32 { return r.Data.RcvIndex }
func (r *UndoRedoRecord) Addr() PageAddr  { return r.Data.addr() }
func (r *UndoRedoRecord) MVCCID() MVCCID  { return MVCCIDNull }

func (r *UndoRedoRecord) Encode() []byte {
	buf := make([]byte, undoRedoRecordSize)
	r.Data.put(buf)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(r.ULength))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(r.RLength))
	return buf
}

// VacuumInfo 用于 vacuum 串联 mvcc 操作的信息, 重做时不使用
type VacuumInfo struct {
	PrevMVCCOpPos LogPosition
	FileID        int32
	VolID         int16
}

// MVCCUndoRedoRecord 带可见性 id 的 undo/redo 记录
type MVCCUndoRedoRecord struct {
	UndoRedo UndoRedoRecord
	MVCCId   MVCCID
	Vacuum   VacuumInfo
}

func (r *MVCCUndoRedoRecord) RcvIndex() int32 { return r.UndoRedo.Data.RcvIndex }
func (r *MVCCUndoRedoRecord) Addr() PageAddr  { return r.UndoRedo.Data.addr() }
func (r *MVCCUndoRedoRecord) MVCCID() MVCCID  { return r.MVCCId }

func (r *MVCCUndoRedoRecord) Encode() []byte {
	buf := make([]byte, mvccUndoRedoRecordSize)
	copy(buf, r.UndoRedo.Encode())
	binary.LittleEndian.PutUint64(buf[24:32], uint64(r.MVCCId))
	putPosition(buf[32:40], r.Vacuum.PrevMVCCOpPos)
	binary.LittleEndian.PutUint32(buf[40:44], uint32(r.Vacuum.FileID))
	binary.LittleEndian.PutUint16(buf[44:46], uint16(r.Vacuum.VolID))
	return buf
}

// RunPostponeRecord 执行延迟操作的记录
type RunPostponeRecord struct {
	Data   LogData
	Length int32
	RefPos LogPosition // 对应的 postpone 记录
}

func (r *RunPostponeRecord) RcvIndex() int32 { return r.Data.RcvIndex }
func (r *RunPostponeRecord) Addr() PageAddr  { return r.Data.addr() }
func (r *RunPostponeRecord) MVCCID() MVCCID  { return MVCCIDNull }

func (r *RunPostponeRecord) Encode() []byte {
	buf := make([]byte, runPostponeRecordSize)
	r.Data.put(buf)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(r.Length))
	putPosition(buf[16:24], r.RefPos)
	return buf
}

// CompensateRecord 补偿记录, 数据是回滚时应用的 undo 数据
type CompensateRecord struct {
	Data        LogData
	Length      int32
	UndoNextPos LogPosition
}

func (r *CompensateRecord) RcvIndex() int32 { return r.Data.RcvIndex }
func (r *CompensateRecord) Addr() PageAddr  { return r.Data.addr() }
func (r *CompensateRecord) MVCCID() MVCCID  { return MVCCIDNull }

func (r *CompensateRecord) Encode() []byte {
	buf := make([]byte, compensateRecordSize)
	r.Data.put(buf)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(r.Length))
	putPosition(buf[16:24], r.UndoNextPos)
	return buf
}

// DBExternRedoRecord 数据库外部副作用的 redo 记录, 不按页寻址
type DBExternRedoRecord struct {
	Index  int32
	Length int32
}

func (r *DBExternRedoRecord) RcvIndex() int32 { return r.Index }
func (r *DBExternRedoRecord) Addr() PageAddr  { return PageAddr{} }
func (r *DBExternRedoRecord) MVCCID() MVCCID  { return MVCCIDNull }

func (r *DBExternRedoRecord) Encode() []byte {
	buf := make([]byte, dbExternRedoRecordSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Index))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.Length))
	return buf
}
