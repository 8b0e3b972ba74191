package walredo

import (
	"context"
	"fmt"

	"walredo/data"
	"walredo/recovery"
)

// readRecordHeader 读取 pos 处的记录头, 记录头不会跨页
func (r *Replicator) readRecordHeader() (*data.LogRecordHeader, error) {
	if err := r.reader.AdvanceWhenDoesNotFit(data.LogRecordHeaderSize); err != nil {
		return nil, err
	}
	buf, err := r.reader.ReinterpretNext(data.LogRecordHeaderSize)
	if err != nil {
		return nil, err
	}
	return data.DecodeLogRecordHeader(buf)
}

// decodeRecord 按类型解码记录头之后的定长部分和数据
// 不需要重做的类型返回 nil, 不产生任何副作用
func (r *Replicator) decodeRecord(hdr *data.LogRecordHeader, pos data.LogPosition) (*recovery.Rcv, error) {
	size, ok := data.FixedPartSize(hdr.Kind)
	if !ok {
		return nil, nil
	}
	if err := r.reader.AdvanceWhenDoesNotFit(size); err != nil {
		return nil, err
	}
	buf, err := r.reader.ReinterpretNext(size)
	if err != nil {
		return nil, err
	}
	fixed, err := data.DecodeFixedPart(hdr.Kind, buf)
	if err != nil {
		return nil, err
	}

	rcv := &recovery.Rcv{
		Kind:         hdr.Kind,
		RcvIndex:     fixed.RcvIndex(),
		Addr:         fixed.Addr(),
		Position:     pos,
		ForwPosition: hdr.ForwPos,
		RefPosition:  data.NullPosition,
		MVCCID:       fixed.MVCCID(),
	}
	// 数据不可能超出记录本身, 分配缓冲区之前先检查长度
	limit := r.recordSpan(pos, hdr.ForwPos)

	switch rec := fixed.(type) {
	case *data.RedoRecord:
		rcv.Data, err = r.readPayload(r.redoBuf, rec.Length, limit)
	case *data.MVCCRedoRecord:
		rcv.Data, err = r.readPayload(r.redoBuf, rec.Redo.Length, limit)
	case *data.UndoRedoRecord:
		err = r.readUndoRedo(rcv, rec, limit)
	case *data.MVCCUndoRedoRecord:
		err = r.readUndoRedo(rcv, &rec.UndoRedo, limit)
	case *data.RunPostponeRecord:
		rcv.RefPosition = rec.RefPos
		rcv.Data, err = r.readPayload(r.redoBuf, rec.Length, limit)
	case *data.CompensateRecord:
		rcv.RefPosition = rec.UndoNextPos
		rcv.Data, err = r.readPayload(r.redoBuf, rec.Length, limit)
	case *data.DBExternRedoRecord:
		// 外部副作用的长度总是显式给出, 数据不压缩
		if rec.Length < 0 {
			err = fmt.Errorf("%w: extern length %d", data.ErrShortFixedPart, rec.Length)
			break
		}
		if int64(rec.Length) > limit {
			err = fmt.Errorf("%w: extern length %d, record spans %d bytes", ErrPayloadTooLong, rec.Length, limit)
			break
		}
		raw := r.redoBuf.Load(int(rec.Length))
		if err = r.reader.ReadBytes(raw); err == nil {
			r.reader.Align()
			rcv.Data = raw
		}
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s record at %s: %w", hdr.Kind, pos, err)
	}
	return rcv, nil
}

// readUndoRedo undo 数据在前, redo 数据在后, 分别使用两个缓冲区
func (r *Replicator) readUndoRedo(rcv *recovery.Rcv, rec *data.UndoRedoRecord, limit int64) error {
	undo, err := r.readPayload(r.undoBuf, rec.ULength, limit)
	if err != nil {
		return err
	}
	redo, err := r.readPayload(r.redoBuf, rec.RLength, limit)
	if err != nil {
		return err
	}
	if rcv.Kind.IsDiff() {
		data.ApplyDiff(redo, undo)
	}
	rcv.Undo = undo
	rcv.Data = redo
	return nil
}

// readPayload 读取一段数据并对齐, 带压缩标识时解压
func (r *Replicator) readPayload(buf *data.UnzipBuffer, length int32, limit int64) ([]byte, error) {
	n := data.StoredLength(length)
	if int64(n) > limit {
		return nil, fmt.Errorf("%w: length %d, record spans %d bytes", ErrPayloadTooLong, n, limit)
	}
	raw := buf.Load(n)
	if err := r.reader.ReadBytes(raw); err != nil {
		return nil, err
	}
	r.reader.Align()
	if !data.IsZipped(length) {
		return raw, nil
	}
	return buf.Unzip(raw)
}

// recordSpan 记录从 pos 到 forw 占用的字节数, 包括页尾的填充
func (r *Replicator) recordSpan(pos, forw data.LogPosition) int64 {
	area := int64(data.AreaSize(r.options.PageSize))
	return (forw.PageID-pos.PageID)*area + int64(forw.Offset) - int64(pos.Offset)
}

// dispatch 按资源类型下标找到重做函数, 在当前协程上同步调用
func (r *Replicator) dispatch(ctx context.Context, rcv *recovery.Rcv) error {
	fn, ok := r.registry.Lookup(rcv.RcvIndex)
	if !ok {
		return fmt.Errorf("%w: index %d, %s record at %s", ErrUnknownRcvIndex, rcv.RcvIndex, rcv.Kind, rcv.Position)
	}
	if err := fn(ctx, rcv); err != nil {
		return fmt.Errorf("redo %s (%s) at %s: %w", r.registry.Name(rcv.RcvIndex), rcv.Kind, rcv.Position, err)
	}
	return nil
}
