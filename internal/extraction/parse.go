package extraction

import (
	"encoding/json"
	"fmt"
	"strings"
)

// envelope is the wire shape an OCR gateway may wrap the document in.
// Raw model output is a bare document object; both forms are accepted.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
}

// parseDocumentJSON parses the model's response into a Document, clears
// placeholder fields and validates dates.
func parseDocumentJSON(text string) (*Document, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var env envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	if env.Success != nil && !*env.Success {
		return nil, fmt.Errorf("ocr service reported failure")
	}

	raw := []byte(text)
	if len(env.Data) > 0 && string(env.Data) != "null" {
		raw = env.Data
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshaling document: %w", err)
	}

	CleanDocument(&doc)
	return &doc, nil
}

// IsPlaceholder reports whether an extracted header value should be
// treated as absent: empty, the sentinel, or a literal echo of the
// transaction-type field (the model sometimes copies the document-class
// label into registration fields).
func IsPlaceholder(value, tipoTransaccion string) bool {
	v := strings.TrimSpace(value)
	if v == "" || strings.EqualFold(v, placeholderSentinel) {
		return true
	}
	t := strings.TrimSpace(tipoTransaccion)
	return t != "" && strings.EqualFold(v, t)
}

// CleanDocument clears every string field equal to the sentinel to empty.
// The registration-entry field is never back-filled from the exit field;
// each is cleared or kept on its own.
func CleanDocument(doc *Document) {
	tipo := doc.TipoTransaccion

	clear := func(s *string) {
		if IsPlaceholder(*s, tipo) {
			*s = ""
		}
	}

	clear(&doc.NumeroRegistroEntrada)
	clear(&doc.NumeroRegistroSalida)
	clear(&doc.FechaEntrada)
	clear(&doc.FechaSalida)
	if strings.EqualFold(strings.TrimSpace(doc.TipoTransaccion), placeholderSentinel) {
		doc.TipoTransaccion = ""
	}

	for i := range doc.Productos {
		p := &doc.Productos[i]
		clear(&p.Codigo)
		clear(&p.Titulo)
		clear(&p.NumeroSerieInicio)
		clear(&p.NumeroSerieFin)
		clear(&p.CodigoContable)
		clear(&p.Observaciones)
		p.Codigo = strings.TrimSpace(p.Codigo)
	}
	for i := range doc.EmpresaOrigen {
		clear(&doc.EmpresaOrigen[i].Nombre)
		clear(&doc.EmpresaOrigen[i].CIF)
		clear(&doc.EmpresaOrigen[i].Direccion)
	}
	for i := range doc.EmpresaDestino {
		clear(&doc.EmpresaDestino[i].Nombre)
		clear(&doc.EmpresaDestino[i].CIF)
		clear(&doc.EmpresaDestino[i].Direccion)
	}
}
