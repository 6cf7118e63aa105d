package record

// ResolutionKind enumerates the possible outcomes of resolving a conflict.
type ResolutionKind string

const (
	UseLocal   ResolutionKind = "use_local"
	UseRemote  ResolutionKind = "use_remote"
	UseMerged  ResolutionKind = "use_merged"
	Skip       ResolutionKind = "skip"
	RetryLater ResolutionKind = "retry_later"
)

// ResolutionResult is the sole output contract every resolver produces.
// Merged carries the payload only for UseMerged.
type ResolutionResult struct {
	Kind   ResolutionKind `json:"kind"`
	Merged []byte         `json:"merged,omitempty"`
}

func ResolveLocal() ResolutionResult  { return ResolutionResult{Kind: UseLocal} }
func ResolveRemote() ResolutionResult { return ResolutionResult{Kind: UseRemote} }
func ResolveMerged(payload []byte) ResolutionResult {
	return ResolutionResult{Kind: UseMerged, Merged: payload}
}
func ResolveSkip() ResolutionResult  { return ResolutionResult{Kind: Skip} }
func ResolveRetry() ResolutionResult { return ResolutionResult{Kind: RetryLater} }

// Apply materializes the result against the conflicting pair: the winning
// record for UseLocal/UseRemote, or the local record carrying the merged
// payload for UseMerged. The boolean is false for Skip/RetryLater, which
// leave no record to apply.
func (r ResolutionResult) Apply(conflict *SyncConflict) (SyncRecord, bool) {
	switch r.Kind {
	case UseLocal:
		return conflict.Local, true
	case UseRemote:
		return conflict.Remote, true
	case UseMerged:
		merged := conflict.Local
		merged.Payload = r.Merged
		if conflict.Remote.LocalModified.After(merged.LocalModified) {
			merged.LocalModified = conflict.Remote.LocalModified
		}
		return merged, true
	default:
		return SyncRecord{}, false
	}
}
