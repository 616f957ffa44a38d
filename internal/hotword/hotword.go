// SPDX-License-Identifier: MIT

// Package hotword loads the hotword lexicon and applies forced replacements
// as the second correction phase. The file format is line-oriented:
//
//	# comment
//	特朗普              protection word (self-mapping, also an engine hotword)
//	全程双路->全程双录   forced mapping, the correct side becomes an engine hotword
//
// Blank lines are ignored.
package hotword

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/copernicusai/copernicus/internal/log"
)

// Replacer holds the compiled lexicon. Safe for concurrent use; Reload swaps
// the compiled state atomically under the lock.
type Replacer struct {
	mu              sync.RWMutex
	path            string
	enabled         bool
	replacer        *strings.Replacer
	asrHotwords     []string
	protectionCount int
	mappingCount    int
	logger          zerolog.Logger
}

// New builds a Replacer from the given lexicon file. A missing or empty path
// yields an inactive replacer that passes text through unchanged.
func New(path string, enabled bool) *Replacer {
	r := &Replacer{
		path:    path,
		enabled: enabled,
		logger:  log.WithComponent("hotword"),
	}
	if err := r.Reload(); err != nil {
		r.logger.Warn().Err(err).Str("path", path).Msg("lexicon load failed, replacer inactive")
	}
	return r
}

// Reload re-reads the lexicon file and swaps in the new mappings.
func (r *Replacer) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.replacer = nil
	r.asrHotwords = nil
	r.protectionCount = 0
	r.mappingCount = 0

	if !r.enabled || r.path == "" {
		return nil
	}

	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("open lexicon: %w", err)
	}
	defer f.Close()

	mappings := map[string]string{}
	var asrWords []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if wrong, correct, ok := strings.Cut(line, "->"); ok {
			wrong = strings.TrimSpace(wrong)
			correct = strings.TrimSpace(correct)
			if wrong == "" || correct == "" {
				continue
			}
			mappings[wrong] = correct
			asrWords = append(asrWords, correct)
			r.mappingCount++
			continue
		}

		// protection word: self-mapping keeps later phases from touching it
		mappings[line] = line
		asrWords = append(asrWords, line)
		r.protectionCount++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read lexicon: %w", err)
	}

	if len(mappings) > 0 {
		r.replacer = compileReplacer(mappings)
	}
	r.asrHotwords = asrWords

	r.logger.Info().
		Int("protection_words", r.protectionCount).
		Int("mappings", r.mappingCount).
		Str("path", r.path).
		Msg("lexicon loaded")
	return nil
}

// compileReplacer orders keys longest-first so overlapping patterns resolve
// to the most specific match.
func compileReplacer(mappings map[string]string) *strings.Replacer {
	keys := make([]string, 0, len(mappings))
	for k := range mappings {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, k, mappings[k])
	}
	return strings.NewReplacer(pairs...)
}

// Replace applies forced mappings to a single text.
func (r *Replacer) Replace(text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	r.mu.RLock()
	rep := r.replacer
	r.mu.RUnlock()
	if rep == nil {
		return text
	}
	return rep.Replace(text)
}

// ReplaceAll applies forced mappings to a batch of texts, returning the
// replaced texts and how many changed.
func (r *Replacer) ReplaceAll(texts []string) ([]string, int) {
	r.mu.RLock()
	rep := r.replacer
	r.mu.RUnlock()
	if rep == nil {
		return texts, 0
	}

	out := make([]string, len(texts))
	changed := 0
	for i, t := range texts {
		out[i] = rep.Replace(t)
		if out[i] != t {
			changed++
		}
	}
	if changed > 0 {
		r.logger.Info().Int("changed", changed).Int("total", len(texts)).Msg("forced replacements applied")
	}
	return out, changed
}

// ASRHotwords returns the engine hotword list: protection words plus the
// correct side of every mapping.
func (r *Replacer) ASRHotwords() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.asrHotwords))
	copy(out, r.asrHotwords)
	return out
}

// Active reports whether any mappings are loaded.
func (r *Replacer) Active() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.replacer != nil
}
