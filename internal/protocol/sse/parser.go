package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
)

const (
	// DataPrefix 是候选数据行必须携带的前缀。
	DataPrefix = "data: "
	// DoneSentinel 表示本轮流式输出结束。
	DoneSentinel = "[DONE]"
	// DefaultMaxCarryOver 为跨 chunk 残留文本的默认上限（1 MiB）。
	DefaultMaxCarryOver = 1 << 20
)

// ErrCarryOverflow 残留缓冲超过上限，视为致命的协议错误。
var ErrCarryOverflow = errors.New("sse: carry-over buffer exceeded limit")

// ProtocolError 描述无法在本地恢复的流协议错误。
type ProtocolError struct {
	Size  int
	Limit int
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%v: %d bytes buffered, limit %d", e.Err, e.Size, e.Limit)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Kind 标识 Frame 的种类。
type Kind uint8

const (
	KindUnknown Kind = iota
	KindDelta
	KindError
	KindDone
)

func (k Kind) String() string {
	switch k {
	case KindDelta:
		return "delta"
	case KindError:
		return "error"
	case KindDone:
		return "done"
	default:
		return "unknown"
	}
}

// Frame 是从增量流中解码出的一个逻辑单元。
type Frame struct {
	Kind    Kind
	Content string
	Err     *ChunkError
}

// Option 配置 Parser。
type Option func(*Parser)

// WithMaxCarryOver 设置残留缓冲上限，n <= 0 时使用默认值。
func WithMaxCarryOver(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.maxCarry = n
		}
	}
}

// Parser 将 `data: ` 前缀的逐行事件流还原为 Frame 序列。
//
// 单个 Parser 只服务一轮流式响应，不可并发使用。
type Parser struct {
	buf      []byte // 尚未遇到换行的尾部
	pending  string // 解析失败、等待后续行拼接的 payload
	maxCarry int
	done     bool
	err      error
}

// NewParser 创建 Parser。
func NewParser(opts ...Option) *Parser {
	p := &Parser{maxCarry: DefaultMaxCarryOver}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Done 报告是否已经读到结束标记。
func (p *Parser) Done() bool { return p.done }

// CarryOver 返回当前残留的字节数（含待拼接的 payload）。
func (p *Parser) CarryOver() int { return len(p.buf) + len(p.pending) }

// Feed 吸收一个 chunk，并返回由它补全的各行所产生的 Frame。
//
// chunk 在调用时立即并入缓冲；返回的序列是惰性的，只能遍历一次。
// 提前结束遍历时，未处理的行保留到下一次 Feed。
func (p *Parser) Feed(chunk []byte) iter.Seq2[Frame, error] {
	if !p.done && p.err == nil {
		p.buf = append(p.buf, chunk...)
	}

	return func(yield func(Frame, error) bool) {
		if p.done {
			return
		}
		if p.err != nil {
			yield(Frame{}, p.err)
			return
		}

		for {
			idx := bytes.IndexByte(p.buf, '\n')
			if idx < 0 {
				break
			}
			line := string(p.buf[:idx])
			p.buf = p.buf[idx+1:]

			frame, ok := p.consumeLine(line)
			if !ok {
				continue
			}
			if frame.Kind == KindDone {
				p.buf = nil
				p.pending = ""
			}
			if !yield(frame, nil) {
				p.compact()
				return
			}
			if p.done {
				return
			}
		}

		p.compact()
		if size := p.CarryOver(); size > p.maxCarry {
			p.err = &ProtocolError{Size: size, Limit: p.maxCarry, Err: ErrCarryOverflow}
			yield(Frame{}, p.err)
		}
	}
}

// Flush 在上游关闭后对残留内容做一次尽力解析，随后丢弃残留。
func (p *Parser) Flush() iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		defer func() {
			p.buf = nil
			p.pending = ""
		}()
		if p.done || p.err != nil {
			return
		}

		tail := string(p.buf)
		p.buf = nil
		for _, raw := range strings.Split(tail, "\n") {
			if raw == "" && p.pending == "" {
				continue
			}
			frame, ok := p.consumeLine(raw)
			if !ok {
				continue
			}
			if !yield(frame, nil) || p.done {
				return
			}
		}
	}
}

func (p *Parser) consumeLine(line string) (Frame, bool) {
	line = strings.TrimSuffix(line, "\r")

	if p.pending != "" {
		candidate := p.pending + "\n" + line
		p.pending = ""
		return p.decodePayload(candidate)
	}

	if strings.HasPrefix(line, ":") || strings.TrimSpace(line) == "" {
		return Frame{}, false
	}
	if !strings.HasPrefix(line, DataPrefix) {
		return Frame{}, false
	}

	return p.decodePayload(strings.TrimSpace(line[len(DataPrefix):]))
}

func (p *Parser) decodePayload(payload string) (Frame, bool) {
	if payload == DoneSentinel {
		p.done = true
		return Frame{Kind: KindDone}, true
	}

	var chunk Chunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		// 可能是被换行截断的多行 payload，保留下来与后续行拼接。
		p.pending = payload
		return Frame{}, false
	}

	if chunk.Error != nil {
		return Frame{Kind: KindError, Err: chunk.Error}, true
	}

	content := chunk.DeltaContent()
	if content == "" {
		return Frame{}, false
	}
	return Frame{Kind: KindDelta, Content: content}, true
}

func (p *Parser) compact() {
	if len(p.buf) == 0 {
		p.buf = nil
		return
	}
	p.buf = append([]byte(nil), p.buf...)
}
