package sync

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"recordsync/internal/record"
)

// MergeFunc combines the decoded field maps of both sides of a conflict into
// a single merged map.
type MergeFunc func(local, remote map[string]any) (map[string]any, error)

// PropertyMergeResolver decodes both payloads and applies a caller-supplied
// per-record-type merge function. It only handles conflicts whose record
// type has a registered function.
type PropertyMergeResolver struct {
	ChainPriority int
	Codec         record.Codec

	mergers map[string]MergeFunc
}

func NewPropertyMergeResolver(codec record.Codec, priority int) *PropertyMergeResolver {
	return &PropertyMergeResolver{
		ChainPriority: priority,
		Codec:         codec,
		mergers:       make(map[string]MergeFunc),
	}
}

// RegisterMerger installs the merge function for a record type, replacing
// any previous registration.
func (r *PropertyMergeResolver) RegisterMerger(recordType string, fn MergeFunc) {
	r.mergers[recordType] = fn
}

func (r *PropertyMergeResolver) Name() string { return "property_merge" }

func (r *PropertyMergeResolver) CanHandle(c *record.SyncConflict) bool {
	_, ok := r.mergers[c.RecordType]
	return ok
}

func (r *PropertyMergeResolver) Priority() int { return r.ChainPriority }

func (r *PropertyMergeResolver) Resolve(_ context.Context, cc *record.ConflictContext) (record.ResolutionResult, error) {
	fn, ok := r.mergers[cc.Conflict.RecordType]
	if !ok {
		return record.ResolutionResult{}, fmt.Errorf("%w: no merger for type %q", ErrMergeFailure, cc.Conflict.RecordType)
	}

	local, err := record.DecodeFields(r.Codec, cc.Conflict.Local.Payload)
	if err != nil {
		return record.ResolutionResult{}, fmt.Errorf("%w: local: %v", ErrInvalidData, err)
	}
	remote, err := record.DecodeFields(r.Codec, cc.Conflict.Remote.Payload)
	if err != nil {
		return record.ResolutionResult{}, fmt.Errorf("%w: remote: %v", ErrInvalidData, err)
	}

	merged, err := fn(local, remote)
	if err != nil {
		return record.ResolutionResult{}, fmt.Errorf("%w: %v", ErrMergeFailure, err)
	}

	payload, err := r.Codec.Encode(merged)
	if err != nil {
		return record.ResolutionResult{}, fmt.Errorf("%w: %v", ErrMergeFailure, err)
	}
	return record.ResolveMerged(payload), nil
}

// FieldStrategy selects how a single field is merged by FieldMergeResolver.
type FieldStrategy string

const (
	FieldUseLocal  FieldStrategy = "use_local"
	FieldUseRemote FieldStrategy = "use_remote"

	// FieldUseLatest takes the value from whichever side was modified
	// later, comparing local-modified against server-modified time.
	FieldUseLatest FieldStrategy = "use_latest"

	// FieldConcat joins string values in timestamp order (earlier first)
	// and appends array values local-then-remote.
	FieldConcat FieldStrategy = "concat"

	// FieldSum, FieldMax, FieldMin apply numerically; when either side is
	// not numeric they fall back to whichever side has the field.
	FieldSum FieldStrategy = "sum"
	FieldMax FieldStrategy = "max"
	FieldMin FieldStrategy = "min"
)

// FieldMergeFunc is a custom binary merge for one field.
type FieldMergeFunc func(local, remote any) (any, error)

// FieldMergeResolver merges payloads field by field over their generic
// key→value decoding. The union of keys is computed; fields present on one
// side only keep that side's value; everything else goes through the
// per-field strategy map, the custom function map, or the default strategy.
type FieldMergeResolver struct {
	ChainPriority int
	Codec         record.Codec

	// Strategies maps field name to merge strategy; Custom takes
	// precedence over Strategies for fields present in both.
	Strategies map[string]FieldStrategy
	Custom     map[string]FieldMergeFunc

	// Default applies to fields with no mapping. Zero value means
	// FieldUseLatest.
	Default FieldStrategy
}

func (r *FieldMergeResolver) Name() string { return "field_merge" }

func (r *FieldMergeResolver) CanHandle(*record.SyncConflict) bool { return true }

func (r *FieldMergeResolver) Priority() int { return r.ChainPriority }

func (r *FieldMergeResolver) Resolve(_ context.Context, cc *record.ConflictContext) (record.ResolutionResult, error) {
	local, err := record.DecodeFields(r.Codec, cc.Conflict.Local.Payload)
	if err != nil {
		return record.ResolutionResult{}, fmt.Errorf("%w: local: %v", ErrInvalidData, err)
	}
	remote, err := record.DecodeFields(r.Codec, cc.Conflict.Remote.Payload)
	if err != nil {
		return record.ResolutionResult{}, fmt.Errorf("%w: remote: %v", ErrInvalidData, err)
	}

	localNewer := cc.Conflict.Local.LocalModified.After(cc.Conflict.Remote.ServerModified)

	merged := make(map[string]any, len(local)+len(remote))
	for _, key := range unionKeys(local, remote) {
		lv, lok := local[key]
		rv, rok := remote[key]

		// Fields on one side only keep that side's value.
		if !lok {
			merged[key] = rv
			continue
		}
		if !rok {
			merged[key] = lv
			continue
		}

		if fn, ok := r.Custom[key]; ok {
			v, err := fn(lv, rv)
			if err != nil {
				return record.ResolutionResult{}, fmt.Errorf("%w: field %q: %v", ErrMergeFailure, key, err)
			}
			merged[key] = v
			continue
		}

		strategy, ok := r.Strategies[key]
		if !ok {
			strategy = r.Default
			if strategy == "" {
				strategy = FieldUseLatest
			}
		}
		merged[key] = mergeField(strategy, lv, rv, localNewer)
	}

	payload, err := r.Codec.Encode(merged)
	if err != nil {
		return record.ResolutionResult{}, fmt.Errorf("%w: %v", ErrMergeFailure, err)
	}
	return record.ResolveMerged(payload), nil
}

func mergeField(strategy FieldStrategy, lv, rv any, localNewer bool) any {
	switch strategy {
	case FieldUseLocal:
		return lv
	case FieldUseRemote:
		return rv
	case FieldConcat:
		return concatValues(lv, rv, localNewer)
	case FieldSum, FieldMax, FieldMin:
		ln, lok := asNumber(lv)
		rn, rok := asNumber(rv)
		if !lok || !rok {
			// Not both numeric: fall back to presence.
			if localNewer {
				return lv
			}
			return rv
		}
		switch strategy {
		case FieldSum:
			return ln + rn
		case FieldMax:
			if ln > rn {
				return ln
			}
			return rn
		default:
			if ln < rn {
				return ln
			}
			return rn
		}
	default: // FieldUseLatest
		if localNewer {
			return lv
		}
		return rv
	}
}

func concatValues(lv, rv any, localNewer bool) any {
	ls, lok := lv.(string)
	rs, rok := rv.(string)
	if lok && rok {
		// Earlier write first.
		if localNewer {
			return rs + ls
		}
		return ls + rs
	}

	la, lok := lv.([]any)
	ra, rok := rv.([]any)
	if lok && rok {
		out := make([]any, 0, len(la)+len(ra))
		out = append(out, la...)
		out = append(out, ra...)
		return out
	}

	if localNewer {
		return lv
	}
	return rv
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func unionKeys(a, b map[string]any) []string {
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// BaseProvider supplies the common-ancestor payload for three-way merges,
// keyed by record type and id. ok=false means no base is known.
type BaseProvider interface {
	Base(ctx context.Context, recordType, id string) (payload []byte, ok bool, err error)
}

// BaseProviderFunc adapts a function to BaseProvider.
type BaseProviderFunc func(ctx context.Context, recordType, id string) ([]byte, bool, error)

func (f BaseProviderFunc) Base(ctx context.Context, recordType, id string) ([]byte, bool, error) {
	return f(ctx, recordType, id)
}

// ThreeWayMergeResolver merges against a common-ancestor snapshot: fields
// changed on one side only take that side; fields changed on both sides take
// the string-set union for arrays and the configured winner otherwise.
// Without a base it degrades to last-write-wins.
type ThreeWayMergeResolver struct {
	ChainPriority int
	Codec         record.Codec
	Bases         BaseProvider

	// RemoteWinsTrueConflicts keeps the remote value when both sides
	// changed a non-array field. Policy, not a correctness property;
	// set false to prefer local instead.
	RemoteWinsTrueConflicts bool
}

func NewThreeWayMergeResolver(codec record.Codec, bases BaseProvider, priority int) *ThreeWayMergeResolver {
	return &ThreeWayMergeResolver{
		ChainPriority:           priority,
		Codec:                   codec,
		Bases:                   bases,
		RemoteWinsTrueConflicts: true,
	}
}

func (r *ThreeWayMergeResolver) Name() string { return "three_way_merge" }

func (r *ThreeWayMergeResolver) CanHandle(*record.SyncConflict) bool { return true }

func (r *ThreeWayMergeResolver) Priority() int { return r.ChainPriority }

func (r *ThreeWayMergeResolver) Resolve(ctx context.Context, cc *record.ConflictContext) (record.ResolutionResult, error) {
	conflict := cc.Conflict

	var basePayload []byte
	haveBase := false
	if r.Bases != nil {
		payload, ok, err := r.Bases.Base(ctx, conflict.RecordType, conflict.RecordID)
		if err != nil {
			return record.ResolutionResult{}, fmt.Errorf("%w: %v", ErrBaseVersionUnavailable, err)
		}
		basePayload, haveBase = payload, ok
	}

	if !haveBase {
		lww := &LastWriteWinsResolver{}
		return lww.Resolve(ctx, cc)
	}

	base, err := record.DecodeFields(r.Codec, basePayload)
	if err != nil {
		return record.ResolutionResult{}, fmt.Errorf("%w: base: %v", ErrInvalidData, err)
	}
	local, err := record.DecodeFields(r.Codec, conflict.Local.Payload)
	if err != nil {
		return record.ResolutionResult{}, fmt.Errorf("%w: local: %v", ErrInvalidData, err)
	}
	remote, err := record.DecodeFields(r.Codec, conflict.Remote.Payload)
	if err != nil {
		return record.ResolutionResult{}, fmt.Errorf("%w: remote: %v", ErrInvalidData, err)
	}

	merged := make(map[string]any, len(local)+len(remote))
	keySet := make(map[string]struct{}, len(local)+len(remote)+len(base))
	for k := range base {
		keySet[k] = struct{}{}
	}
	for k := range local {
		keySet[k] = struct{}{}
	}
	for k := range remote {
		keySet[k] = struct{}{}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		bv, bok := base[key]
		lv, lok := local[key]
		rv, rok := remote[key]

		localChanged := changed(bv, bok, lv, lok)
		remoteChanged := changed(bv, bok, rv, rok)

		switch {
		case !localChanged && !remoteChanged:
			if bok {
				merged[key] = bv
			}
		case localChanged && !remoteChanged:
			if lok {
				merged[key] = lv
			}
			// Deleted locally: leave it out.
		case !localChanged && remoteChanged:
			if rok {
				merged[key] = rv
			}
		default:
			// Both sides changed.
			la, lIsList := lv.([]any)
			ra, rIsList := rv.([]any)
			if lIsList && rIsList {
				merged[key] = unionAsStrings(la, ra)
				continue
			}
			if r.RemoteWinsTrueConflicts {
				if rok {
					merged[key] = rv
				}
			} else if lok {
				merged[key] = lv
			}
		}
	}

	payload, err := r.Codec.Encode(merged)
	if err != nil {
		return record.ResolutionResult{}, fmt.Errorf("%w: %v", ErrMergeFailure, err)
	}
	return record.ResolveMerged(payload), nil
}

func changed(bv any, bok bool, v any, ok bool) bool {
	if bok != ok {
		return true
	}
	if !ok {
		return false
	}
	return !reflect.DeepEqual(bv, v)
}

// unionAsStrings is the conservative, deterministic degeneration for arrays
// changed on both sides: the sorted set union of the elements' string forms.
func unionAsStrings(a, b []any) []any {
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, v := range a {
		seen[stringify(v)] = struct{}{}
	}
	for _, v := range b {
		seen[stringify(v)] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	union := make([]any, len(out))
	for i, s := range out {
		union[i] = s
	}
	return union
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return strings.TrimSpace(fmt.Sprintf("%v", v))
}
