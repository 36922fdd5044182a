/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import "fmt"

// GSIConfig names the secondary index List queries. Every item carries its
// entity type on the partition key and "<created>#<id>" on the sort key, so
// one query returns a type's records oldest first.
type GSIConfig struct {
	IndexName        string
	PartitionKeyName string
	SortKeyName      string
}

// DefaultGSI is the index layout used when WithGSI is not given.
var DefaultGSI = GSIConfig{
	IndexName:        "GSI1",
	PartitionKeyName: "PK1",
	SortKeyName:      "SK1",
}

// Validate reports a missing name or a key attribute that clashes with the
// table keys.
func (c GSIConfig) Validate() error {
	if c.IndexName == "" || c.PartitionKeyName == "" || c.SortKeyName == "" {
		return fmt.Errorf("gsi config %+v: index and key names are required", c)
	}
	for _, name := range []string{c.PartitionKeyName, c.SortKeyName} {
		switch name {
		case AttrPK, AttrSK, AttrEntityType:
			return fmt.Errorf("gsi config: %s is reserved for the table keys", name)
		}
	}
	if c.PartitionKeyName == c.SortKeyName {
		return fmt.Errorf("gsi config: partition and sort key must differ")
	}
	return nil
}
