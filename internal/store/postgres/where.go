package postgres

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/JonMunkholm/ledgermigrate/internal/record"
)

// whereBuilder accumulates SQL conditions with positional arguments.
// Field names are always bound as parameters, never spliced into the SQL.
type whereBuilder struct {
	conditions []string
	args       []any
}

func (wb *whereBuilder) arg(v any) string {
	wb.args = append(wb.args, v)
	return "$" + strconv.Itoa(len(wb.args))
}

func (wb *whereBuilder) add(cond string) {
	if cond != "" {
		wb.conditions = append(wb.conditions, cond)
	}
}

func (wb *whereBuilder) build() (string, []any) {
	return strings.Join(wb.conditions, " AND "), wb.args
}

// buildWhere translates a record.Query for one collection.
func buildWhere(collection string, q record.Query) (string, []any) {
	wb := &whereBuilder{}
	wb.add("collection = " + wb.arg(collection))
	for _, f := range q.Filters {
		wb.add(filterSQL(wb, f))
	}
	return wb.build()
}

func filterSQL(wb *whereBuilder, f record.Filter) string {
	field := wb.arg(f.Field)
	text := fmt.Sprintf("(data->>%s)", field)

	switch f.Op {
	case record.OpEq, "":
		return fmt.Sprintf("%s = %s", text, wb.arg(record.Stringify(f.Value)))
	case record.OpNe:
		return fmt.Sprintf("%s IS DISTINCT FROM %s", text, wb.arg(record.Stringify(f.Value)))
	case record.OpContains:
		return fmt.Sprintf("%s ILIKE %s", text, wb.arg("%"+escapeLike(record.Stringify(f.Value))+"%"))
	case record.OpIn:
		values, _ := f.Value.([]string)
		if values == nil {
			values = []string{}
		}
		return fmt.Sprintf("%s = ANY(%s)", text, wb.arg(values))
	case record.OpGt, record.OpGte, record.OpLt, record.OpLte:
		op := map[record.Operator]string{
			record.OpGt: ">", record.OpGte: ">=", record.OpLt: "<", record.OpLte: "<=",
		}[f.Op]
		value := record.Stringify(f.Value)
		if n, err := strconv.ParseFloat(value, 64); err == nil {
			return fmt.Sprintf("(jsonb_typeof(data->%s) = 'number' AND (data->%s)::numeric %s %s)",
				field, field, op, wb.arg(n))
		}
		return fmt.Sprintf("%s %s %s", text, op, wb.arg(value))
	default:
		return "FALSE"
	}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
