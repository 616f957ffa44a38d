// SPDX-License-Identifier: MIT

// Package visual covers the video-side checks of a double-recording review:
// OCR on keyframes (presented documents, rate tables) and face presence over
// time. The heavy models run in HTTP sidecars; this package holds the
// clients, the result filtering and the timeline analysis.
package visual

// OCRRecord is one recognized text region on a keyframe.
type OCRRecord struct {
	TimestampMS int     `json:"timestamp_ms"`
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence"`
	FramePath   string  `json:"frame_path"`
	BBox        [][]int `json:"bbox,omitempty"`
}

// Event types on the visual timeline.
const (
	EventFaceDetected = "face_detected"
	EventFaceMissing  = "face_missing"
	EventSceneChange  = "scene_change"
)

// VisualEvent is a contiguous span on the visual timeline, such as a period
// with no face in frame.
type VisualEvent struct {
	EventType  string  `json:"event_type"`
	StartMS    int     `json:"start_ms"`
	EndMS      int     `json:"end_ms"`
	Confidence float64 `json:"confidence"`
	FramePath  string  `json:"frame_path,omitempty"`
}

// Face is one detection box in a frame.
type Face struct {
	BBox       []float64 `json:"bbox"`
	Confidence float64   `json:"confidence"`
}

// FrameResult summarizes face detection for one keyframe.
type FrameResult struct {
	TimestampMS   int     `json:"timestamp_ms"`
	FaceCount     int     `json:"face_count"`
	MaxConfidence float64 `json:"max_confidence"`
	FramePath     string  `json:"frame_path"`
}

// AnalysisResult bundles the persisted visual artifacts of a task.
type AnalysisResult struct {
	OCRRecords   []OCRRecord   `json:"ocr_records"`
	VisualEvents []VisualEvent `json:"visual_events"`
}
