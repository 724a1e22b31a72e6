package service

import (
	"context"
	"strings"
	"time"

	"syntax-ai-go/internal/config"
	"syntax-ai-go/internal/conversation"
	"syntax-ai-go/internal/model"
	"syntax-ai-go/pkg/llm"
)

const defaultGenerateRules = `You are an expert polyglot software engineer.
Task: Generate a high-quality script in "{language}".

OUTPUT FORMAT:
LanguageName--
[Code Here]

RULES:
1. Start with the language name followed by '--'.
2. Provide functional, clean, and well-commented code.
3. Do not include introductory text, only the code.`

const defaultRefineRules = `You are an expert polyglot software engineer.
The user wants to modify their existing {language} script.

GUIDELINES:
1. Analyze the current code in the conversation history.
2. Apply the requested changes (fixes, additions, or optimizations).
3. IMPORTANT: Always provide the COMPLETE updated script, not just snippets.
4. Maintain comments and best practices.

OUTPUT FORMAT:
{language}--
[Updated Code Only]`

// generationSource 把 LLM 客户端适配为状态机的分块来源。
type generationSource struct {
	client llm.Client
	cfg    config.LLMConfig
}

// NewGenerationSource 创建一个基于 llm.Client 的 conversation.Source。
func NewGenerationSource(client llm.Client, cfg config.LLMConfig) conversation.Source {
	return &generationSource{client: client, cfg: cfg}
}

func (s *generationSource) Open(ctx context.Context, req conversation.Request) (conversation.Stream, error) {
	var cancel context.CancelFunc
	if s.cfg.StreamTimeoutSeconds > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.StreamTimeoutSeconds)*time.Second)
	}

	messages, params := s.compose(req)
	stream, err := s.client.StreamChatMessages(ctx, messages, params)
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, err
	}
	return &cancelingStream{ChunkStream: stream, cancel: cancel}, nil
}

// compose 构造消息序列：system 指令、历史（仅修改时）以及本次输入。
func (s *generationSource) compose(req conversation.Request) ([]llm.Message, *llm.GenerationParams) {
	rules, gen := s.cfg.Prompt.GenerateRules, s.cfg.Generation
	if rules == "" {
		rules = defaultGenerateRules
	}
	if req.Mode == conversation.ModeUpdate {
		rules, gen = s.cfg.Prompt.RefineRules, s.cfg.Refine
		if rules == "" {
			rules = defaultRefineRules
		}
	}

	msgs := make([]llm.Message, 0, len(req.History)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: strings.ReplaceAll(rules, "{language}", req.Language)})
	for _, turn := range req.History {
		msgs = append(msgs, llm.Message{Role: chatRole(turn.Role), Content: turn.Text})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: req.Prompt})
	return msgs, llm.ParamsFromConfig(gen)
}

// chatRole 把历史中的 "model" 角色映射为 OpenAI 兼容接口使用的 "assistant"。
func chatRole(role string) string {
	if role == model.RoleModel {
		return "assistant"
	}
	return role
}

type cancelingStream struct {
	llm.ChunkStream
	cancel context.CancelFunc
}

func (s *cancelingStream) Close() error {
	err := s.ChunkStream.Close()
	if s.cancel != nil {
		s.cancel()
	}
	return err
}
