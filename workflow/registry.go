package workflow

import "fmt"

// Step names of the builtin lifecycle definitions. Each must have a
// matching Adapter registered with the engine at startup.
const (
	StepDirectoryAccount      = "directory_account"
	StepEmailMailbox          = "email_mailbox"
	StepBuildingAccess        = "building_access"
	StepEquipmentHandout      = "equipment_handout"
	StepWelcomeAnnouncement   = "welcome_announcement"
	StepOrientationSchedule   = "orientation_schedule"
	StepDirectoryDisable      = "directory_disable"
	StepAccessRevoke          = "access_revoke"
	StepMailboxArchive        = "mailbox_archive"
	StepEquipmentReturn       = "equipment_return"
	StepDepartureAnnouncement = "departure_announcement"
)

// Attribute flag names referenced by inclusion predicates.
const (
	FlagBuildingAccess = "building_access"
	FlagOrientation    = "orientation"
	FlagArchiveMailbox = "archive_mailbox"
)

var definitions = map[LifecycleType]*Definition{
	Onboarding: {
		Type: Onboarding,
		Steps: []StepTemplate{
			{Name: StepDirectoryAccount, Criticality: Critical},
			{Name: StepEmailMailbox, Criticality: Critical, Uses: []string{StepDirectoryAccount}},
			{Name: StepBuildingAccess, Criticality: NonCritical, Include: IfFlag(FlagBuildingAccess)},
			{Name: StepEquipmentHandout, Criticality: NonCritical, Manual: true},
			{Name: StepWelcomeAnnouncement, Criticality: NonCritical},
			{Name: StepOrientationSchedule, Criticality: NonCritical, Include: IfFlag(FlagOrientation)},
		},
	},
	Offboarding: {
		Type: Offboarding,
		Steps: []StepTemplate{
			{Name: StepDirectoryDisable, Criticality: Critical},
			{Name: StepAccessRevoke, Criticality: Critical, Uses: []string{StepDirectoryDisable}},
			{Name: StepMailboxArchive, Criticality: NonCritical, Include: IfFlag(FlagArchiveMailbox)},
			{Name: StepEquipmentReturn, Criticality: NonCritical, Manual: true},
			{Name: StepDepartureAnnouncement, Criticality: NonCritical},
		},
	},
}

// Definitions returns the declared lifecycle definitions.
func Definitions() map[LifecycleType]*Definition {
	return definitions
}

// StepNames returns the step names across all definitions.
// Used by the engine's fail-fast adapter registration check.
func StepNames() []string {
	var names []string
	seen := make(map[string]struct{})
	for _, d := range definitions {
		for _, t := range d.Steps {
			if _, ok := seen[t.Name]; ok {
				continue
			}
			seen[t.Name] = struct{}{}
			names = append(names, t.Name)
		}
	}
	return names
}

// ResolveSteps resolves the ordered step plan for lifecycle type t
// against a. Pure and deterministic: declared order is preserved and
// every template appears in the result, with excluded steps marked
// Skipped.
func ResolveSteps(t LifecycleType, a *Attributes) ([]PlannedStep, error) {
	d, ok := definitions[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidLifecycleType, t)
	}
	plan := make([]PlannedStep, 0, len(d.Steps))
	for i, tmpl := range d.Steps {
		plan = append(plan, PlannedStep{
			StepTemplate: tmpl,
			Order:        i,
			Skipped:      !tmpl.Included(a),
		})
	}
	return plan, nil
}
