// Package stream 负责把模型返回的分块文本拆分为语言标签和代码正文。
//
// 模型输出约定为 "<语言>--<代码>"。分隔符第一次出现在累计缓冲区中之后，
// 语言标签即被冻结；代码正文每次都从完整缓冲区重新推导，而不是增量追加，
// 因此无论分隔符是否跨越分块边界，结果都一致。
package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"unicode"
)

// Delimiter 分隔语言标签与代码正文。
const Delimiter = "--"

// Source 是一个惰性、有限、不可重放的分块序列。
// Next 在序列正常结束时返回 io.EOF。
type Source interface {
	Next() (string, error)
}

// Snapshot 是每收到一个分块后对外可见的状态。
type Snapshot struct {
	Raw      string `json:"raw"`
	Language string `json:"language"`
	Code     string `json:"code"`
	TagFound bool   `json:"tagFound"`
}

// Result 是流结束时的最终结果。
type Result struct {
	Raw      string
	Language string
	TagFound bool
}

// Demux 累积分块并维护 (语言, 代码) 视图。零值不可用，请使用 NewDemux。
type Demux struct {
	buf      strings.Builder
	fallback string
	language string
	tagFound bool
}

// NewDemux 创建一个分流器，fallback 为分隔符出现前使用的语言标签。
func NewDemux(fallback string) *Demux {
	return &Demux{fallback: fallback, language: fallback}
}

// Feed 追加一个分块并返回更新后的快照。
func (d *Demux) Feed(chunk string) Snapshot {
	d.buf.WriteString(chunk)
	raw := d.buf.String()

	if !d.tagFound {
		if idx := strings.Index(raw, Delimiter); idx >= 0 {
			d.language = strings.TrimSpace(raw[:idx])
			d.tagFound = true
		}
	}
	return d.snapshot(raw)
}

// Snapshot 返回当前状态，不追加任何内容。
func (d *Demux) Snapshot() Snapshot {
	return d.snapshot(d.buf.String())
}

func (d *Demux) snapshot(raw string) Snapshot {
	code := raw
	if d.tagFound {
		code, _ = splitBody(raw)
	}
	return Snapshot{Raw: raw, Language: d.language, Code: code, TagFound: d.tagFound}
}

// Result 返回当前的最终三元组。
func (d *Demux) Result() Result {
	return Result{Raw: d.buf.String(), Language: d.language, TagFound: d.tagFound}
}

// Consume 依次读取 src 的全部分块，每个分块之后调用 onChunk（可为 nil）。
// src 出错时原样返回错误，此前的部分状态仍可通过 d.Snapshot 获取。
func (d *Demux) Consume(ctx context.Context, src Source, onChunk func(Snapshot)) (Result, error) {
	for {
		if err := ctx.Err(); err != nil {
			return d.Result(), err
		}
		chunk, err := src.Next()
		if errors.Is(err, io.EOF) {
			return d.Result(), nil
		}
		if err != nil {
			return d.Result(), err
		}
		snap := d.Feed(chunk)
		if onChunk != nil {
			onChunk(snap)
		}
	}
}

// ExtractBody 按与 Demux 相同的规则从完整文本中取出代码正文。
// 没有分隔符时整段文本即为代码。
func ExtractBody(text string) string {
	body, _ := splitBody(text)
	return body
}

// splitBody 返回第一个分隔符之后的内容（去掉前导空白），后续的分隔符原样保留。
func splitBody(text string) (string, bool) {
	_, after, found := strings.Cut(text, Delimiter)
	if !found {
		return text, false
	}
	return strings.TrimLeftFunc(after, unicode.IsSpace), true
}
