// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"syntax-ai-go/internal/config"
	"syntax-ai-go/internal/model"
	"syntax-ai-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var ESClient *elasticsearch.Client

// scriptMapping 是脚本索引的结构：描述与代码走全文检索，其余字段精确匹配。
const scriptMapping = `{
	"mappings": {
		"properties": {
			"script_id":   { "type": "keyword" },
			"user_id":     { "type": "long" },
			"language":    { "type": "keyword" },
			"description": { "type": "text" },
			"code":        { "type": "text" },
			"object_name": { "type": "keyword" },
			"timestamp":   { "type": "long" }
		}
	}
}`

// InitES 初始化 Elasticsearch 客户端并确保脚本索引存在
func InitES(esCfg config.ElasticsearchConfig) error {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client
	return NewScriptIndex(client, esCfg.IndexName).EnsureIndex(context.Background())
}

// ScriptIndex 封装对脚本索引的读写。
type ScriptIndex struct {
	client *elasticsearch.Client
	index  string
}

// NewScriptIndex 创建一个绑定到指定索引的 ScriptIndex。
func NewScriptIndex(client *elasticsearch.Client, index string) *ScriptIndex {
	return &ScriptIndex{client: client, index: index}
}

// EnsureIndex 检查索引是否存在，如果不存在则创建它
func (s *ScriptIndex) EnsureIndex(ctx context.Context) error {
	res, err := s.client.Indices.Exists([]string{s.index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", s.index)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", s.index, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = s.client.Indices.Create(
		s.index,
		s.client.Indices.Create.WithBody(strings.NewReader(scriptMapping)),
		s.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", s.index, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", s.index, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", s.index)
	return nil
}

// IndexScript 写入（或覆盖）一份脚本文档，文档 ID 即脚本 ID。
func (s *ScriptIndex) IndexScript(ctx context.Context, doc model.ScriptDocument) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      s.index,
		DocumentID: doc.ScriptID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引脚本到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index script")
	}
	return nil
}

// DeleteScript 删除脚本文档，文档不存在视为成功。
func (s *ScriptIndex) DeleteScript(ctx context.Context, scriptID string) error {
	req := esapi.DeleteRequest{
		Index:      s.index,
		DocumentID: scriptID,
		Refresh:    "true",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		log.Errorf("从 Elasticsearch 删除脚本出错: %s", res.String())
		return errors.New("failed to delete script")
	}
	return nil
}

// SearchScripts 在用户自己的脚本中做全文检索，描述字段权重更高。
func (s *ScriptIndex) SearchScripts(ctx context.Context, userID uint, query string, topK int) ([]model.SearchResponseDTO, error) {
	if topK <= 0 {
		topK = 10
	}
	esQuery := map[string]interface{}{
		"size": topK,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": map[string]interface{}{
					"multi_match": map[string]interface{}{
						"query":  query,
						"fields": []string{"description^2", "code", "language"},
					},
				},
				"filter": map[string]interface{}{
					"term": map[string]interface{}{"user_id": userID},
				},
			},
		},
		"highlight": map[string]interface{}{
			"fields": map[string]interface{}{
				"code":        map[string]interface{}{"fragment_size": 160, "number_of_fragments": 1},
				"description": map[string]interface{}{},
			},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(&buf),
		s.client.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[ScriptIndex] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source    model.ScriptDocument `json:"_source"`
				Score     float64              `json:"_score"`
				Highlight map[string][]string  `json:"highlight"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	results := make([]model.SearchResponseDTO, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		snippet := firstLine(hit.Source.Code)
		if frags := hit.Highlight["code"]; len(frags) > 0 {
			snippet = frags[0]
		}
		results = append(results, model.SearchResponseDTO{
			ScriptID:    hit.Source.ScriptID,
			Language:    hit.Source.Language,
			Description: hit.Source.Description,
			Snippet:     snippet,
			Score:       hit.Score,
			Timestamp:   hit.Source.Timestamp,
		})
	}
	return results, nil
}

func firstLine(code string) string {
	line, _, _ := strings.Cut(code, "\n")
	return line
}
