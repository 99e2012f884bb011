package dispatch

import (
	"fmt"
	"os"
	"path/filepath"
)

// wellKnownOutputs maps the filenames the analyzer writes into the job
// output directory to the logical names the API exposes.
var wellKnownOutputs = map[string]string{
	"integratedData.json":     "integrated_data",
	"populatedTemplate.xlsx":  "populated_template",
	"analysisReport.pdf":      "analysis_report",
	"pitchDeck.pptx":          "pitch_deck",
	"processing_results.json": "processing_results",
}

// BuildManifest scans the job's output directory for well-known output
// files and maps each logical name to its retrieval URL.
func BuildManifest(jobID, outputDir string) map[string]string {
	manifest := make(map[string]string)

	for filename, logical := range wellKnownOutputs {
		if _, err := os.Stat(filepath.Join(outputDir, filename)); err != nil {
			continue
		}
		manifest[logical] = fmt.Sprintf("/api/v1/analysis/%s/files/%s", jobID, filename)
	}

	return manifest
}

// OutputFilename resolves a requested download name against the
// well-known set, rejecting anything the analyzer does not produce.
func OutputFilename(name string) (string, bool) {
	_, ok := wellKnownOutputs[name]
	return name, ok
}
