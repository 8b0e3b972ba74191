package data

import "sort"

// LogBuilder 按读取端的布局规则把日志记录排列到页中, 用于工具和测试
// 规则: 记录按 Alignment 对齐, 记录头不跨页, 定长部分放不下时移到下一页, 数据可以跨页
type LogBuilder struct {
	// Zip 为 true 时对非空数据进行压缩
	Zip bool

	pageSize int
	areaSize int
	pages    map[int64]*LogPage
	next     LogPosition
	back     LogPosition
	lastTran map[int32]LogPosition
}

// NewLogBuilder 从 start 开始排列记录, start 必须是对齐的
func NewLogBuilder(pageSize int, start LogPosition) *LogBuilder {
	b := &LogBuilder{
		pageSize: pageSize,
		areaSize: AreaSize(pageSize),
		pages:    make(map[int64]*LogPage),
		next:     start,
		back:     NullPosition,
		lastTran: make(map[int32]LogPosition),
	}
	b.next = b.headerFit(b.normalize(start))
	return b
}

// EndPosition 下一条记录开始的位置, 即当前日志的末尾
func (b *LogBuilder) EndPosition() LogPosition {
	return b.next
}

// Append 追加一条记录, 返回记录的开始位置
func (b *LogBuilder) Append(kind RecordKind, tranID int32, fixed []byte, payloads ...[]byte) LogPosition {
	start := b.next
	prevTran, ok := b.lastTran[tranID]
	if !ok {
		prevTran = NullPosition
	}

	cur := b.write(start, make([]byte, LogRecordHeaderSize))
	cur = b.align(cur)
	if len(fixed) > 0 {
		if int(cur.Offset)+len(fixed) > b.areaSize {
			cur = LogPosition{PageID: cur.PageID + 1}
		}
		cur = b.align(b.write(cur, fixed))
	}
	for _, payload := range payloads {
		cur = b.align(b.write(cur, payload))
	}
	b.next = b.headerFit(cur)

	header := EncodeLogRecordHeader(&LogRecordHeader{
		PrevTranPos: prevTran,
		BackPos:     b.back,
		ForwPos:     b.next,
		TranID:      tranID,
		Kind:        kind,
	})
	page := b.page(start.PageID)
	copy(page.Area[start.Offset:], header)
	if page.FirstRecordOffset == NoRecordOffset {
		page.FirstRecordOffset = start.Offset
	}

	b.back = start
	b.lastTran[tranID] = start
	return start
}

// AppendKind 追加只有记录头的记录, 例如提交记录
func (b *LogBuilder) AppendKind(kind RecordKind) LogPosition {
	return b.Append(kind, 0, nil)
}

// AppendRedo 追加 redo 记录, mvccid 非空时使用 MVCC 类型
func (b *LogBuilder) AppendRedo(rcvIndex int32, addr PageAddr, mvccid MVCCID, redo []byte) LogPosition {
	data, length := b.payload(redo)
	rec := RedoRecord{Data: logDataOf(rcvIndex, addr), Length: length}
	if mvccid == MVCCIDNull {
		return b.Append(LogRedoData, 0, rec.Encode(), data)
	}
	mvccRec := &MVCCRedoRecord{Redo: rec, MVCCId: mvccid}
	return b.Append(LogMVCCRedoData, 0, mvccRec.Encode(), data)
}

// AppendUndoRedo 追加 undo/redo 记录, kind 可以是四种 undo/redo 类型之一
// 差异类型会把 redo 数据存为与 undo 数据的异或结果
func (b *LogBuilder) AppendUndoRedo(kind RecordKind, rcvIndex int32, addr PageAddr, mvccid MVCCID, undo, redo []byte) LogPosition {
	if kind.IsDiff() {
		diff := append([]byte(nil), redo...)
		ApplyDiff(diff, undo)
		redo = diff
	}
	undoData, ulength := b.payload(undo)
	redoData, rlength := b.payload(redo)
	rec := UndoRedoRecord{Data: logDataOf(rcvIndex, addr), ULength: ulength, RLength: rlength}

	var fixed []byte
	switch kind {
	case LogMVCCUndoRedoData, LogMVCCDiffUndoRedoData:
		fixed = (&MVCCUndoRedoRecord{
			UndoRedo: rec,
			MVCCId:   mvccid,
			Vacuum:   VacuumInfo{PrevMVCCOpPos: NullPosition},
		}).Encode()
	default:
		fixed = rec.Encode()
	}
	return b.Append(kind, 0, fixed, undoData, redoData)
}

// AppendRunPostpone 追加执行延迟操作的记录
func (b *LogBuilder) AppendRunPostpone(rcvIndex int32, addr PageAddr, ref LogPosition, redo []byte) LogPosition {
	data, length := b.payload(redo)
	rec := &RunPostponeRecord{Data: logDataOf(rcvIndex, addr), Length: length, RefPos: ref}
	return b.Append(LogRunPostpone, 0, rec.Encode(), data)
}

// AppendCompensate 追加补偿记录
func (b *LogBuilder) AppendCompensate(rcvIndex int32, addr PageAddr, undoNext LogPosition, undo []byte) LogPosition {
	data, length := b.payload(undo)
	rec := &CompensateRecord{Data: logDataOf(rcvIndex, addr), Length: length, UndoNextPos: undoNext}
	return b.Append(LogCompensate, 0, rec.Encode(), data)
}

// AppendDBExtern 追加数据库外部副作用记录, 长度总是显式给出, 不压缩
func (b *LogBuilder) AppendDBExtern(rcvIndex int32, payload []byte) LogPosition {
	rec := &DBExternRedoRecord{Index: rcvIndex, Length: int32(len(payload))}
	return b.Append(LogDBExternRedoData, 0, rec.Encode(), payload)
}

// Page 返回封好的页副本
func (b *LogBuilder) Page(pageID int64) (*LogPage, bool) {
	page, ok := b.pages[pageID]
	if !ok {
		return nil, false
	}
	cp := page.Clone()
	cp.Seal()
	return cp, true
}

// Pages 按页号顺序返回所有封好的页副本
func (b *LogBuilder) Pages() []*LogPage {
	ids := make([]int64, 0, len(b.pages))
	for id := range b.pages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	pages := make([]*LogPage, 0, len(ids))
	for _, id := range ids {
		page, _ := b.Page(id)
		pages = append(pages, page)
	}
	return pages
}

func (b *LogBuilder) payload(src []byte) ([]byte, int32) {
	if b.Zip && len(src) > 0 {
		return ZipPayload(src)
	}
	return src, int32(len(src))
}

func (b *LogBuilder) page(pageID int64) *LogPage {
	page, ok := b.pages[pageID]
	if !ok {
		page = NewLogPage(pageID, b.pageSize)
		b.pages[pageID] = page
	}
	return page
}

// write 从 pos 开始写入 buf, 跨页时接着写入下一页
func (b *LogBuilder) write(pos LogPosition, buf []byte) LogPosition {
	for len(buf) > 0 {
		pos = b.normalize(pos)
		page := b.page(pos.PageID)
		n := copy(page.Area[pos.Offset:], buf)
		buf = buf[n:]
		pos.Offset += int16(n)
	}
	return pos
}

func (b *LogBuilder) align(pos LogPosition) LogPosition {
	pos.Offset = int16(AlignUp(int(pos.Offset)))
	return b.normalize(pos)
}

func (b *LogBuilder) normalize(pos LogPosition) LogPosition {
	if int(pos.Offset) >= b.areaSize {
		return LogPosition{PageID: pos.PageID + 1}
	}
	return pos
}

// headerFit 页尾放不下记录头时, 下一条记录从下一页开始
func (b *LogBuilder) headerFit(pos LogPosition) LogPosition {
	if b.areaSize-int(pos.Offset) < LogRecordHeaderSize {
		return LogPosition{PageID: pos.PageID + 1}
	}
	return pos
}

func logDataOf(rcvIndex int32, addr PageAddr) LogData {
	return LogData{RcvIndex: rcvIndex, PageID: addr.PageID, Offset: addr.Offset, VolID: addr.VolID}
}
