// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package processor

import "fmt"

// Stages reported by ProcessingError.
const (
	StageExtract = "extract"
	StageSidecar = "sidecar"
	StagePersist = "persist"
	StageLink    = "link"
)

// ValidationError rejects an item before extraction: empty content, size over
// the limit, a disallowed extension, or content that is not what its name
// claims.
type ValidationError struct {
	Filename string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Filename, e.Reason)
}

// ProcessingError wraps a failure after validation.
type ProcessingError struct {
	Stage    string
	Filename string
	Err      error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Filename, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }
