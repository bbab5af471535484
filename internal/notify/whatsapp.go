package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const whatsappBaseURL = "https://graph.facebook.com/v18.0"

// WhatsAppSender delivers text messages through the WhatsApp Cloud API.
// The address is the recipient phone number, pre-normalized upstream
// (digits with country code); it is passed through verbatim.
type WhatsAppSender struct {
	accessToken   string
	phoneNumberID string
	http          *http.Client
	baseURL       string
}

func NewWhatsApp(accessToken, phoneNumberID string) *WhatsAppSender {
	return &WhatsAppSender{
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		http:          &http.Client{Timeout: 15 * time.Second},
		baseURL:       whatsappBaseURL,
	}
}

type whatsappText struct {
	Body string `json:"body"`
}

type whatsappMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             whatsappText `json:"text"`
}

func (w *WhatsAppSender) Send(ctx context.Context, address, body string) error {
	payload := whatsappMessage{
		MessagingProduct: "whatsapp",
		To:               address,
		Type:             "text",
		Text:             whatsappText{Body: body},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("whatsapp payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", w.baseURL, w.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("whatsapp request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("whatsapp send: status %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
