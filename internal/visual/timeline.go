// SPDX-License-Identifier: MIT

package visual

import "sort"

// AnalyzeFaceTimeline folds per-frame face results into contiguous
// detected/missing spans. Missing spans shorter than missingThresholdMS are
// dropped: the presenter looking down at documents for a few seconds is not
// an absence. The final span is closed one frame interval past the last
// sample.
func AnalyzeFaceTimeline(results []FrameResult, intervalMS, missingThresholdMS int) []VisualEvent {
	if len(results) == 0 {
		return nil
	}

	sorted := make([]FrameResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TimestampMS < sorted[j].TimestampMS
	})

	var events []VisualEvent

	state := ""
	segStartMS := 0
	segConfidence := 0.0
	segFramePath := ""

	emit := func(endMS int) {
		duration := endMS - segStartMS
		if state == "missing" && duration < missingThresholdMS {
			return
		}
		eventType := EventFaceDetected
		if state == "missing" {
			eventType = EventFaceMissing
		}
		events = append(events, VisualEvent{
			EventType:  eventType,
			StartMS:    segStartMS,
			EndMS:      endMS,
			Confidence: segConfidence,
			FramePath:  segFramePath,
		})
	}

	for _, fr := range sorted {
		current := "missing"
		if fr.FaceCount > 0 {
			current = "detected"
		}

		if state == "" {
			state = current
			segStartMS = fr.TimestampMS
			segConfidence = fr.MaxConfidence
			segFramePath = fr.FramePath
			continue
		}

		if current != state {
			emit(fr.TimestampMS)
			state = current
			segStartMS = fr.TimestampMS
			segConfidence = fr.MaxConfidence
			segFramePath = fr.FramePath
		} else if fr.MaxConfidence > segConfidence {
			segConfidence = fr.MaxConfidence
		}
	}

	emit(sorted[len(sorted)-1].TimestampMS + intervalMS)
	return events
}
