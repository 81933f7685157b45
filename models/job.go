package models

// Request is the invocation input of one crawl.
type Request struct {
	URL         string `json:"url"`
	MaxProducts int    `json:"maxProducts"`
	OutputDir   string `json:"outputDir"`
}

// Stage is the coarse job phase reported to the tracker.
type Stage string

const (
	StageScanningProducts     Stage = "scanning_products"
	StageProcessingVariations Stage = "processing_variations"
	StageDownloadingImages    Stage = "downloading_images"
	StageCompleted            Stage = "completed"
)

// EventType discriminates Event payloads.
type EventType string

const (
	EventLog      EventType = "log"
	EventProgress EventType = "progress"
	EventResult   EventType = "result"
	EventError    EventType = "error"
)

// Event is pushed to the job tracker. Patches are shallow-merged by the
// receiver, so unset fields are omitted.
type Event struct {
	Type    EventType      `json:"type"`
	Message string         `json:"message,omitempty"`
	Patch   *ProgressPatch `json:"patch,omitempty"`
	Result  *Result        `json:"result,omitempty"`
}

// ProgressPatch carries only the counters that changed.
type ProgressPatch struct {
	Stage                      Stage `json:"stage,omitempty"`
	ProductsDiscovered         *int  `json:"productsDiscovered,omitempty"`
	ProductsProcessed          *int  `json:"productsProcessed,omitempty"`
	ImagesDownloaded           *int  `json:"imagesDownloaded,omitempty"`
	ImagesSkipped              *int  `json:"imagesSkipped,omitempty"`
	CSVGenerated               *bool `json:"csvGenerated,omitempty"`
	VariationProductsTotal     *int  `json:"variationProductsTotal,omitempty"`
	VariationProductsProcessed *int  `json:"variationProductsProcessed,omitempty"`
}

// Int is a helper for building patches.
func Int(v int) *int { return &v }

// Bool is a helper for building patches.
func Bool(v bool) *bool { return &v }

// Files lists the artifacts written by a run.
type Files struct {
	MetadataJSON string `json:"metadataJson"`
	ImportCSV    string `json:"importCsv"`
}

// Summary holds final counters.
type Summary struct {
	ProductsDiscovered   int  `json:"productsDiscovered"`
	ProductsProcessed    int  `json:"productsProcessed"`
	VariableProducts     int  `json:"variableProducts"`
	VariationsDiscovered int  `json:"variationsDiscovered"`
	ImagesDownloaded     int  `json:"imagesDownloaded"`
	ImagesSkipped        int  `json:"imagesSkipped"`
	CSVGenerated         bool `json:"csvGenerated"`
}

// Result is returned to the caller on success.
type Result struct {
	RunID     string  `json:"runId"`
	Source    string  `json:"source"`
	OutputDir string  `json:"outputDir"`
	Files     Files   `json:"files"`
	Summary   Summary `json:"summary"`
}
