package models

import "fmt"

type CondOp int

const (
	OpEq CondOp = iota
	// OpNe matches NULL too: `col IS NULL OR col <> v`.
	OpNe
	OpIsNull
	OpNotNull
	// OpNotTrue is `col IS NULL OR col = false`.
	OpNotTrue
	OpIn
)

// Cond is a single filter on a sale column. Only field equality style filters exist.
type Cond struct {
	Column string
	Op     CondOp
	Value  interface{}
}

func Eq(col string, v interface{}) Cond { return Cond{Column: col, Op: OpEq, Value: v} }
func Ne(col string, v interface{}) Cond { return Cond{Column: col, Op: OpNe, Value: v} }
func IsNull(col string) Cond { return Cond{Column: col, Op: OpIsNull} }
func NotNull(col string) Cond { return Cond{Column: col, Op: OpNotNull} }
func NotTrue(col string) Cond { return Cond{Column: col, Op: OpNotTrue} }
func In(col string, vs []string) Cond { return Cond{Column: col, Op: OpIn, Value: vs} }

type Query struct {
	Conds   []Cond
	OrderBy string
	Desc    bool
	Limit   int
}

// ActiveSales are sales that are not soft-deleted.
func ActiveSales(extra ...Cond) []Cond {
	return append([]Cond{IsNull(ColDeletedAt)}, extra...)
}

func validateConds(conds []Cond) error {
	for _, c := range conds {
		if !IsSaleColumn(c.Column) {
			return fmt.Errorf("unknown sale column %q", c.Column)
		}
		if c.Op == OpIn {
			if _, ok := c.Value.([]string); !ok {
				return fmt.Errorf("IN on %q needs a string list", c.Column)
			}
		}
	}
	return nil
}
