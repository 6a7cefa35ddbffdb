package extraction

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// retryableStatuses are HTTP statuses treated as transient provider failures
var retryableStatuses = map[int]bool{
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

const visionPrompt = `Eres un sistema de extracción de datos de facturas españolas.
Analiza la factura de las imágenes y devuelve EXACTAMENTE este JSON, sin texto adicional:
{
  "supplier_name": "razón social del proveedor",
  "supplier_nif": "NIF/CIF del proveedor",
  "customer_nif": "NIF/CIF del cliente si aparece",
  "invoice_number": "número de factura",
  "invoice_date": "fecha de emisión en formato YYYY-MM-DD",
  "due_date": "fecha de vencimiento en formato YYYY-MM-DD si aparece",
  "currency": "código de moneda, EUR si no se indica",
  "doc_type": "invoice, credit_note o expense_ticket",
  "category": "categoría de gasto si es evidente (suministros, transporte, servicios...)",
  "net": "base imponible",
  "tax": "cuota de IVA",
  "gross": "total factura",
  "lines": [
    {"description": "concepto", "quantity": "cantidad", "unit_price": "precio unitario", "vat_rate": "tipo de IVA en porcentaje", "amount": "importe"}
  ],
  "confidence": 0.0,
  "field_confidence": {"supplier_nif": 0.0, "gross": 0.0}
}
Los importes se devuelven como cadenas con punto decimal. Si un campo no aparece
en la factura, devuélvelo como cadena vacía. "confidence" es tu confianza global
entre 0 y 1; "doc_type" es "credit_note" si el documento es una factura
rectificativa o de abono, y "expense_ticket" si es un ticket o recibo simple
en lugar de una factura completa.`

// OpenAIBackend extracts invoice fields from PDF documents using the
// OpenAI Vision API, rendering the first pages to images.
type OpenAIBackend struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewOpenAIBackend creates a Vision extraction backend
func NewOpenAIBackend(apiKey, model string, logger *zap.Logger) *OpenAIBackend {
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAIBackend{
		client: openai.NewClient(apiKey),
		model:  model,
		logger: logger,
	}
}

// Name implements Backend
func (b *OpenAIBackend) Name() string {
	return "openai-vision"
}

// Analyze implements Backend
func (b *OpenAIBackend) Analyze(ctx context.Context, data []byte, tenant string) (*Result, error) {
	if !isPDF(data) {
		return nil, fmt.Errorf("%w: not a PDF document", ErrCorruptInput)
	}

	images, pageCount, err := renderPDFPages(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptInput, err)
	}

	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: visionPrompt},
	}
	for _, img := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img),
				Detail: openai.ImageURLDetailHigh,
			},
		})
	}

	start := time.Now()
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		MaxTokens:   2000,
		Temperature: 0.1,
	})
	if err != nil {
		return nil, b.classifyError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, &TransientError{Status: 502, Err: fmt.Errorf("empty completion response")}
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	var result Result
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("failed to parse extraction response: %w", err)
	}
	result.PageCount = pageCount

	b.logger.Debug("Vision extraction completed",
		zap.String("tenant", tenant),
		zap.Int("pages", pageCount),
		zap.Float64("confidence", result.Confidence),
		zap.Duration("elapsed", time.Since(start)))

	return &result, nil
}

// classifyError maps OpenAI API errors into the provider error taxonomy
func (b *OpenAIBackend) classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && retryableStatuses[apiErr.HTTPStatusCode] {
		retryAfter := time.Duration(0)
		if apiErr.HTTPStatusCode == 429 {
			retryAfter = 5 * time.Second
		}
		return &TransientError{
			Status:     apiErr.HTTPStatusCode,
			RetryAfter: retryAfter,
			Err:        err,
		}
	}
	return fmt.Errorf("extraction request failed: %w", err)
}
