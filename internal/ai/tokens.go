package ai

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

const tokenEncoding = "cl100k_base"

// TokenCounter token 计数
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter 基于 tiktoken 的计数器
// 编码表加载失败时退化为按字符数估算
type TiktokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTiktokenCounter 创建计数器，编码表在首次使用时加载
func NewTiktokenCounter() *TiktokenCounter {
	return &TiktokenCounter{}
}

// Count 统计 token 数
func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}

	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(tokenEncoding)
		if err != nil {
			log.Warn().Err(err).Str("encoding", tokenEncoding).Msg("tiktoken unavailable, falling back to length estimate")
			return
		}
		c.enc = enc
	})

	if c.enc == nil {
		return ApproxTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// ApproxTokens 按每 4 字节一个 token 粗略估算
func ApproxTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// ApproxCounter 不依赖编码表的计数器
type ApproxCounter struct{}

// Count 统计 token 数
func (ApproxCounter) Count(text string) int {
	return ApproxTokens(text)
}
