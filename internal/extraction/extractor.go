package extraction

import (
	"context"
	"fmt"
)

// DocumentTypeAC21 is the discriminator for standard AC21 transfer documents.
const DocumentTypeAC21 = "AC21"

// placeholderSentinel is what the OCR model is instructed to emit for
// fields it cannot read. Such values are cleared to empty before the
// result is handed to the workflow.
const placeholderSentinel = "N/A"

// Company is a counterparty candidate read from the document header.
type Company struct {
	Nombre    string `json:"nombre"`
	CIF       string `json:"cif,omitempty"`
	Direccion string `json:"direccion,omitempty"`
}

// Product is one extracted line item. Tipo is operator-assignable and
// always empty as returned by OCR.
type Product struct {
	Codigo            string `json:"codigo"`
	Titulo            string `json:"titulo"`
	Cantidad          int    `json:"cantidad"`
	NumeroSerieInicio string `json:"numero_serie_inicio"`
	NumeroSerieFin    string `json:"numero_serie_fin"`
	CodigoContable    string `json:"codigo_contable"`
	Observaciones     string `json:"observaciones"`
	Tipo              string `json:"tipo"`
}

// NumeroSerie is the serial used for document reconciliation: the start of
// the extracted range, empty for quantity-only lines.
func (p Product) NumeroSerie() string {
	return p.NumeroSerieInicio
}

// Accessory is a non-serialized item accompanying the equipment.
type Accessory struct {
	Descripcion string `json:"descripcion"`
	Cantidad    int    `json:"cantidad"`
}

// TestEquipment is a test/measurement device listed on the document.
type TestEquipment struct {
	Descripcion string `json:"descripcion"`
	NumeroSerie string `json:"numero_serie"`
}

// Signature is one signature block (sender or receiver side).
type Signature struct {
	Cargo  string `json:"cargo"`
	Nombre string `json:"nombre"`
	Fecha  string `json:"fecha"`
}

// Document is the structured result returned by OCR for one submitted page.
type Document struct {
	NumeroRegistroEntrada string          `json:"numero_registro_entrada"`
	NumeroRegistroSalida  string          `json:"numero_registro_salida"`
	TipoTransaccion       string          `json:"tipo_transaccion"`
	FechaEntrada          string          `json:"fecha_entrada"`
	FechaSalida           string          `json:"fecha_salida"`
	EmpresaOrigen         []Company       `json:"empresa_origen"`
	EmpresaDestino        []Company       `json:"empresa_destino"`
	Productos             []Product       `json:"productos"`
	Accesorios            []Accessory     `json:"accesorios"`
	EquiposPrueba         []TestEquipment `json:"equipos_prueba"`
	Firmas                []Signature     `json:"firmas"`
}

// Extractor analyzes one upright page buffer and returns the structured
// document fields. A failed call carries no partial data.
type Extractor interface {
	Extract(ctx context.Context, pageImage []byte, documentType string) (*Document, error)
	Close() error
}

// documentPrompt instructs the vision model. All unreadable fields come
// back as the sentinel so downstream clearing is uniform.
func documentPrompt(documentType string) string {
	return fmt.Sprintf(`You are analyzing a scanned %s cryptographic equipment transfer document. Carefully read all text in the image and extract the following information:

1. **Registration numbers**: "numero_registro_entrada" (inbound registry number) and "numero_registro_salida" (outbound registry number). These appear in the document header, often prefixed ENT-/SAL-. Never copy one into the other; if one is missing, use %q for it.

2. **Transaction type**: "tipo_transaccion" — the kind of transfer (entrega, devolucion, traslado...).

3. **Dates**: "fecha_entrada" and "fecha_salida" in YYYY-MM-DD format.

4. **Counterparties**: "empresa_origen" and "empresa_destino" — arrays of candidate companies with "nombre", "cif" and "direccion" when visible. List every plausible candidate.

5. **Products**: "productos" — every equipment line with "codigo" (product code), "titulo" (description), "cantidad" (integer quantity), "numero_serie_inicio" and "numero_serie_fin" (serial range, empty strings for bulk lines), "codigo_contable" (accounting code), "observaciones" (notes) and "tipo" always as an empty string.

6. **Accessories**: "accesorios" — array of {"descripcion", "cantidad"}.

7. **Test equipment**: "equipos_prueba" — array of {"descripcion", "numero_serie"}.

8. **Signatures**: "firmas" — array of {"cargo", "nombre", "fecha"}.

Return ONLY valid JSON with exactly those keys.

Important:
- Use %q for any text field you cannot read; use 0 for unreadable quantities
- Dates must be YYYY-MM-DD
- Do not include any text before or after the JSON
- Do not use markdown code blocks`, documentType, placeholderSentinel, placeholderSentinel)
}
