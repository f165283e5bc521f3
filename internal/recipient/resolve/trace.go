package resolve

// Trace is a strongly-typed tag describing one step the resolver took. Tests
// assert exact resolution paths against these instead of freeform strings.
type Trace string

const (
	TraceInsert    Trace = "insert"
	TraceFullMatch Trace = "full_match"
	TraceGapFill   Trace = "gap_fill"

	TraceACIConflictInsert Trace = "aci_conflict_insert"
	TraceChangeNumber      Trace = "change_number"
	TraceSessionSwitchover Trace = "session_switchover"

	TraceE164PNIMerge Trace = "e164_pni_merge"
	TraceE164PNISteal Trace = "e164_pni_steal"
	TracePNIACIMerge  Trace = "pni_aci_merge"
	TracePNIACISteal  Trace = "pni_aci_steal"
	TraceE164ACIMerge Trace = "e164_aci_merge"
	TraceE164ACISteal Trace = "e164_aci_steal"

	// TraceDefensiveSwitchover marks the extra notice queued on both sides of
	// an unverified privacy-id move between two records with live sessions.
	TraceDefensiveSwitchover Trace = "defensive_switchover"

	// TraceSelfExcluded marks a step skipped because the tuple overlapped the
	// local user's identity and self-changes were not authorized.
	TraceSelfExcluded Trace = "self_excluded"

	// TraceFieldBlocked marks a field left unset because another record still
	// owns the value, which can only happen after a self-excluded merge pass.
	TraceFieldBlocked Trace = "field_blocked"
)
