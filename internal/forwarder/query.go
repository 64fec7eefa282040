package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lgscvb/line-webhook-gateway/internal/domain"
	"github.com/lgscvb/line-webhook-gateway/internal/httpx"
)

// Capability endpoints on the modern backend's query API. The gateway
// derives which one to hit from the message text.
const (
	capPayments  = "/api/payments/next"
	capContracts = "/api/contracts"
	capChat      = "/api/chat"
)

var (
	paymentHints  = []string{"繳費", "繳款", "付款", "payment"}
	contractHints = []string{"合約", "契約", "contract"}
)

// capabilityFor picks the backend capability endpoint for a message.
func capabilityFor(text string) string {
	lower := strings.ToLower(text)
	for _, h := range paymentHints {
		if strings.Contains(lower, h) {
			return capPayments
		}
	}
	for _, h := range contractHints {
		if strings.Contains(lower, h) {
			return capContracts
		}
	}
	return capChat
}

// queryRequest is the derived query sent to a capability endpoint.
type queryRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

// queryResponse is the backend's structured answer.
type queryResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type paymentRow struct {
	ProjectName string      `json:"project_name"`
	NextPayDate string      `json:"next_pay_date"`
	Amount      json.Number `json:"amount"`
}

type contractRow struct {
	ProjectName string `json:"project_name"`
	Status      string `json:"status"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
}

// query sends a derived capability query for a text message and formats the
// structured answer into reply text.
func (f *Forwarder) query(ctx context.Context, ev *domain.InboundEvent) domain.BackendResult {
	if f.queryBase == "" {
		return domain.BackendResult{
			Status: domain.BackendRejected,
			Target: domain.DestinationModern,
			Detail: "no query base configured for unified mode",
		}
	}

	capability := capabilityFor(ev.Text)
	body, err := json.Marshal(queryRequest{UserID: ev.UserID, Text: ev.Text})
	if err != nil {
		return domain.BackendResult{Status: domain.BackendRejected, Target: domain.DestinationModern, Detail: err.Error()}
	}

	resp, err := httpx.DoWithRetry(ctx, f.httpClient, f.maxRetries, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, f.queryBase+capability, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, f.logger)
	if err != nil {
		f.logger.Error("capability query failed", "capability", capability, "error", err)
		return domain.BackendResult{Status: domain.BackendUnavailable, Target: domain.DestinationModern, Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return domain.BackendResult{
			Status: domain.BackendRejected,
			Target: domain.DestinationModern,
			Detail: fmt.Sprintf("capability %s returned HTTP %d", capability, resp.StatusCode),
		}
	}

	var qr queryResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&qr); err != nil {
		return domain.BackendResult{
			Status: domain.BackendRejected,
			Target: domain.DestinationModern,
			Detail: fmt.Sprintf("capability %s returned malformed body: %v", capability, err),
		}
	}
	if !qr.Success {
		detail := qr.Message
		if detail == "" {
			detail = "backend reported success=false"
		}
		return domain.BackendResult{Status: domain.BackendRejected, Target: domain.DestinationModern, Detail: detail}
	}

	text := formatReply(capability, &qr)
	if text == "" {
		return domain.BackendResult{
			Status: domain.BackendRejected,
			Target: domain.DestinationModern,
			Detail: fmt.Sprintf("capability %s produced no reply text", capability),
		}
	}
	return domain.BackendResult{Status: domain.BackendOk, Target: domain.DestinationModern, ReplyText: text}
}

// formatReply renders the structured data into the message the user sees.
func formatReply(capability string, qr *queryResponse) string {
	switch capability {
	case capPayments:
		var rows []paymentRow
		if err := json.Unmarshal(qr.Data, &rows); err != nil || len(rows) == 0 {
			return qr.Message
		}
		lines := make([]string, 0, len(rows))
		for _, r := range rows {
			lines = append(lines, fmt.Sprintf("專案：%s\n下次繳費日：%s\n金額：%s 元",
				r.ProjectName, r.NextPayDate, r.Amount.String()))
		}
		return strings.Join(lines, "\n\n")
	case capContracts:
		var rows []contractRow
		if err := json.Unmarshal(qr.Data, &rows); err != nil || len(rows) == 0 {
			return qr.Message
		}
		lines := make([]string, 0, len(rows))
		for _, r := range rows {
			lines = append(lines, fmt.Sprintf("專案：%s（%s）\n期間：%s ~ %s",
				r.ProjectName, r.Status, r.StartDate, r.EndDate))
		}
		return strings.Join(lines, "\n\n")
	default:
		return qr.Message
	}
}
