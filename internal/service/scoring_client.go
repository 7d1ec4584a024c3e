package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"selfinsight_backend/internal/config"
	"selfinsight_backend/internal/model"
)

// ScoringClient 外部评分服务的窄接口：一次提交，一个状态查询
type ScoringClient interface {
	SubmitEvaluation(ctx context.Context, payload *model.EvaluationPayload) (*model.ScoringAck, error)
	EvaluationStatus(ctx context.Context, submissionID string) (model.ScoringState, error)
}

// ScoringRejectedError 评分端明确拒绝，不做对账直接上抛
type ScoringRejectedError struct {
	StatusCode int
	Message    string
}

func (e *ScoringRejectedError) Error() string {
	return fmt.Sprintf("scoring service rejected submission (status %d): %s", e.StatusCode, e.Message)
}

// ScoringUnreachableError 网络/超时类失败，真实结果不明，需要状态对账
type ScoringUnreachableError struct {
	Err error
}

func (e *ScoringUnreachableError) Error() string {
	return fmt.Sprintf("scoring service unreachable: %v", e.Err)
}

func (e *ScoringUnreachableError) Unwrap() error {
	return e.Err
}

// HTTPScoringClient 评分服务的 HTTP 实现。评分在移动网络下又慢又容易
// 断，提交超时按分钟配置，状态查询走独立的短超时
type HTTPScoringClient struct {
	cfg          config.ScoringConfig
	submitClient *http.Client
	statusClient *http.Client
}

func NewHTTPScoringClient(cfg config.ScoringConfig) *HTTPScoringClient {
	return &HTTPScoringClient{
		cfg:          cfg,
		submitClient: &http.Client{Timeout: cfg.SubmitTimeout},
		statusClient: &http.Client{Timeout: time.Duration(cfg.StatusTimeoutSeconds) * time.Second},
	}
}

func (c *HTTPScoringClient) SubmitEvaluation(ctx context.Context, payload *model.EvaluationPayload) (*model.ScoringAck, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/evaluations", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.submitClient.Do(req)
	if err != nil {
		return nil, &ScoringUnreachableError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		// 网关超时等5xx无法区分服务端是否已受理，按待对账处理
		body, _ := io.ReadAll(resp.Body)
		return nil, &ScoringUnreachableError{Err: fmt.Errorf("scoring service returned %d: %s", resp.StatusCode, string(body))}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return nil, &ScoringRejectedError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	var ack model.ScoringAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, &ScoringUnreachableError{Err: fmt.Errorf("malformed acknowledgment: %w", err)}
	}
	if ack.Status != "accepted" {
		return nil, &ScoringRejectedError{StatusCode: resp.StatusCode, Message: "missing acknowledgment marker"}
	}
	return &ack, nil
}

func (c *HTTPScoringClient) EvaluationStatus(ctx context.Context, submissionID string) (model.ScoringState, error) {
	url := fmt.Sprintf("%s/evaluations/%s/status", c.cfg.BaseURL, submissionID)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return model.ScoringUnknown, err
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.statusClient.Do(req)
	if err != nil {
		return model.ScoringUnknown, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return model.ScoringUnknown, nil
	}
	if resp.StatusCode != http.StatusOK {
		return model.ScoringUnknown, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	var body struct {
		State model.ScoringState `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.ScoringUnknown, err
	}
	switch body.State {
	case model.ScoringProcessing, model.ScoringReady:
		return body.State, nil
	default:
		return model.ScoringUnknown, nil
	}
}
