package policy

import "strings"

// PermissionTier gates which tools are even visible to an agent, upstream of
// LayeredPolicy's allow/block filtering. Ordering: NONE < OBSERVE < INTERACT
// < FULL.
type PermissionTier int

const (
	TierNone PermissionTier = iota
	TierObserve
	TierInteract
	TierFull
)

// Permission is the coarse category a ToolDescriptor declares. Ordering:
// read < write < send == admin, per spec.md §3.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionSend  Permission = "send"
	PermissionAdmin Permission = "admin"
)

// minTierFor maps a tool's declared permission to the lowest tier that may
// see it.
var minTierFor = map[Permission]PermissionTier{
	PermissionRead:  TierObserve,
	PermissionWrite: TierInteract,
	PermissionSend:  TierFull,
	PermissionAdmin: TierFull,
}

// ParseTier accepts either an integer-valued tier or a case-insensitive tier
// name, returning def if the value is unrecognized.
func ParseTier(value any, def PermissionTier) PermissionTier {
	switch v := value.(type) {
	case PermissionTier:
		return v
	case int:
		return PermissionTier(v)
	case string:
		switch strings.ToUpper(v) {
		case "NONE":
			return TierNone
		case "OBSERVE":
			return TierObserve
		case "INTERACT":
			return TierInteract
		case "FULL":
			return TierFull
		}
	}
	return def
}

// NamedPermission describes enough of a tool to apply tier filtering without
// depending on the full ToolDescriptor type.
type NamedPermission struct {
	Name       string
	Permission Permission
}

// FilterByTier returns the subset of tools visible at the given tier. A
// NONE tier yields no tools; an unrecognized permission defaults to
// requiring TierFull (fail closed).
func FilterByTier(tools []NamedPermission, tier PermissionTier) []NamedPermission {
	if tier == TierNone {
		return nil
	}
	result := make([]NamedPermission, 0, len(tools))
	for _, tool := range tools {
		required, ok := minTierFor[tool.Permission]
		if !ok {
			required = TierFull
		}
		if required <= tier {
			result = append(result, tool)
		}
	}
	return result
}
