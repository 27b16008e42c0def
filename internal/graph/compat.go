package graph

import "fmt"

// typePair restricts a relationship type to allowed endpoint entity types.
// A nil set means any type is allowed (wildcard).
type typePair struct {
	from map[EntityType]bool
	to   map[EntityType]bool
}

func typeSet(types ...EntityType) map[EntityType]bool {
	m := make(map[EntityType]bool, len(types))
	for _, t := range types {
		m[t] = true
	}
	return m
}

// compatTable encodes which (from, to) entity type pairs each relationship
// type admits. Writes that violate the table are rejected.
var compatTable = map[RelationshipType]typePair{
	RelLocatedIn: {
		from: typeSet(EntityTypeDevice, EntityTypeRoom),
		to:   typeSet(EntityTypeRoom, EntityTypeZone, EntityTypeHome),
	},
	RelControls: {
		from: typeSet(EntityTypeDevice, EntityTypeAutomation),
		to:   typeSet(EntityTypeDevice),
	},
	RelConnectsTo: {
		from: typeSet(EntityTypeRoom, EntityTypeDoor, EntityTypeWindow),
		to:   typeSet(EntityTypeRoom, EntityTypeDoor, EntityTypeWindow),
	},
	RelPartOf: {
		from: typeSet(EntityTypeDevice, EntityTypeRoom, EntityTypeZone),
		to:   typeSet(EntityTypeDevice, EntityTypeRoom, EntityTypeZone, EntityTypeHome),
	},
	RelManages: {
		from: typeSet(EntityTypeApp, EntityTypeAutomation),
		to:   typeSet(EntityTypeDevice, EntityTypeSchedule, EntityTypeAutomation),
	},
	RelDocumentedBy: {
		from: typeSet(EntityTypeDevice),
		to:   typeSet(EntityTypeManual, EntityTypeProcedure, EntityTypeNote),
	},
	RelProcedureFor: {
		from: typeSet(EntityTypeProcedure),
		to:   typeSet(EntityTypeDevice),
	},
	RelTriggeredBy: {
		from: typeSet(EntityTypeAutomation),
		to:   typeSet(EntityTypeDevice, EntityTypeSchedule),
	},
	RelDependsOn: {
		from: typeSet(EntityTypeDevice, EntityTypeAutomation),
		to:   typeSet(EntityTypeDevice),
	},
	RelContainedIn: {
		from: typeSet(EntityTypeDevice, EntityTypeDoor, EntityTypeWindow, EntityTypeRoom),
		to:   typeSet(EntityTypeRoom, EntityTypeZone, EntityTypeHome),
	},
	RelMonitors: {
		from: typeSet(EntityTypeDevice, EntityTypeAutomation),
		to:   typeSet(EntityTypeDevice, EntityTypeRoom, EntityTypeZone, EntityTypeHome),
	},
	RelAutomates: {
		from: typeSet(EntityTypeAutomation),
		to:   typeSet(EntityTypeDevice, EntityTypeRoom, EntityTypeSchedule),
	},
	RelControlledByApp: {
		from: typeSet(EntityTypeDevice),
		to:   typeSet(EntityTypeApp),
	},
	// Any entity may carry binary attachments
	RelHasBlob: {},
}

// ValidateRelationship rejects edges whose endpoint types the compatibility
// table disallows
func ValidateRelationship(from, to EntityType, rel RelationshipType) error {
	pair, ok := compatTable[rel]
	if !ok {
		return fmt.Errorf("%w: unknown relationship type %q", ErrInvalidRelationship, rel)
	}
	if pair.from != nil && !pair.from[from] {
		return fmt.Errorf("%w: %s may not originate from %s", ErrInvalidRelationship, rel, from)
	}
	if pair.to != nil && !pair.to[to] {
		return fmt.Errorf("%w: %s may not target %s", ErrInvalidRelationship, rel, to)
	}
	return nil
}
