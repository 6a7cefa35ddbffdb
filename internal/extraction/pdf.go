package extraction

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"
)

// maxRenderPages limits Vision payload size; invoice data is on the first pages
const maxRenderPages = 2

// isPDF reports whether data carries a PDF magic header
func isPDF(data []byte) bool {
	return len(data) >= 5 && bytes.HasPrefix(data, []byte("%PDF-"))
}

// pdfPageCount returns the number of pages in a PDF document
func pdfPageCount(data []byte) (int, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()
	return doc.NumPage(), nil
}

// pdfText extracts the embedded text layer of a PDF and its page count
func pdfText(data []byte) (string, int, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrCorruptInput, err)
	}
	defer doc.Close()

	total := doc.NumPage()
	var sb bytes.Buffer
	for i := 0; i < total; i++ {
		text, err := doc.Text(i)
		if err != nil {
			return "", total, fmt.Errorf("failed to read page %d text: %w", i+1, err)
		}
		sb.WriteString(text)
		sb.WriteByte('\n')
	}
	return sb.String(), total, nil
}

// renderPDFPages rasterizes the first pages of a PDF into JPEG images.
// Returns the encoded images and the document's total page count.
func renderPDFPages(data []byte) ([][]byte, int, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	total := doc.NumPage()
	pages := total
	if pages > maxRenderPages {
		pages = maxRenderPages
	}

	images := make([][]byte, 0, pages)
	for i := 0; i < pages; i++ {
		img, err := doc.Image(i)
		if err != nil {
			return nil, total, fmt.Errorf("failed to render page %d: %w", i+1, err)
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
			return nil, total, fmt.Errorf("failed to encode page %d: %w", i+1, err)
		}
		images = append(images, buf.Bytes())
	}
	return images, total, nil
}
