// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import "github.com/AleutianAI/AleutianArena/services/arena/search"

// Merge folds a fresh engine outcome into the best-so-far.
//
// Counters are always summed. The principal variation and evaluation come
// from prev when prev exists and its line is at least as long as next's;
// otherwise from next. A longer line is kept even when the shorter one
// evaluates better.
//
// Inputs:
//   - prev: The merged outcome so far, or nil for the first increment.
//   - next: The outcome of the latest engine call.
//
// Outputs:
//   - search.Outcome: A new value sharing no slices with prev or next.
func Merge(prev *search.Outcome, next search.Outcome) search.Outcome {
	if prev == nil {
		return next.Clone()
	}

	out := next.Clone()
	if len(prev.PrincipalVariation) >= len(next.PrincipalVariation) {
		kept := prev.Clone()
		out.PrincipalVariation = kept.PrincipalVariation
		out.Evaluation = kept.Evaluation
	}
	out.Counters = prev.Counters.Add(next.Counters)
	return out
}
