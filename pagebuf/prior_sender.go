package pagebuf

import (
	"encoding/binary"
	"errors"
	"log"
	"sync"

	"walredo/data"
)

const priorMessageHeaderSize = 16

var ErrInvalidPriorMessage = errors.New("invalid prior message")

// Sink 接收一批日志页的回调
type Sink func(msg []byte) error

// PriorSender 把新追加的日志页和持久位置转发给所有接收端
type PriorSender struct {
	mu    sync.Mutex
	sinks []Sink
	Debug bool // 为 true 时打印每次发送的信息
}

// AddSink 注册接收端
func (ps *PriorSender) AddSink(sink Sink) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.sinks = append(ps.sinks, sink)
}

// SendPages 编码后逐个发送给接收端, 每个接收端拿到独立的副本
func (ps *PriorSender) SendPages(end data.LogPosition, pages []*data.LogPage) error {
	if len(pages) == 0 {
		return nil
	}
	msg := EncodePriorMessage(end, pages)
	if ps.Debug {
		log.Printf("[DEBUG] walredo: sending %d pages starting at page %d, end %s, message size %d",
			len(pages), pages[0].PageID, end, len(msg))
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	var errs []error
	for _, sink := range ps.sinks {
		if err := sink(append([]byte(nil), msg...)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EncodePriorMessage end 8 + 页数 4 + 页大小 4 + 页内容
func EncodePriorMessage(end data.LogPosition, pages []*data.LogPage) []byte {
	pageSize := 0
	if len(pages) > 0 {
		pageSize = pages[0].Size()
	}
	buf := make([]byte, priorMessageHeaderSize, priorMessageHeaderSize+len(pages)*pageSize)
	binary.LittleEndian.PutUint64(buf[0:8], end.Pack())
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(pages)))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(pageSize))
	for _, page := range pages {
		buf = append(buf, data.EncodePage(page)...)
	}
	return buf
}

// DecodePriorMessage 解码并校验消息中的每一页
func DecodePriorMessage(msg []byte, pageSize int) (data.LogPosition, []*data.LogPage, error) {
	if len(msg) < priorMessageHeaderSize {
		return data.NullPosition, nil, ErrInvalidPriorMessage
	}
	end := data.UnpackPosition(binary.LittleEndian.Uint64(msg[0:8]))
	n := int(binary.LittleEndian.Uint32(msg[8:12]))
	size := int(binary.LittleEndian.Uint32(msg[12:16]))
	if n > 0 && size != pageSize {
		return data.NullPosition, nil, data.ErrInvalidPageSize
	}
	body := msg[priorMessageHeaderSize:]
	if len(body) != n*pageSize {
		return data.NullPosition, nil, ErrInvalidPriorMessage
	}

	pages := make([]*data.LogPage, 0, n)
	for i := 0; i < n; i++ {
		page, err := data.DecodePage(body[i*pageSize:(i+1)*pageSize], pageSize)
		if err != nil {
			return data.NullPosition, nil, err
		}
		if err := page.VerifyChecksum(); err != nil {
			return data.NullPosition, nil, err
		}
		pages = append(pages, page)
	}
	return end, pages, nil
}
