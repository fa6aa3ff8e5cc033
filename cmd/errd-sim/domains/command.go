package domains

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/rocketbitz/fabric-errd/errdomain"
)

// Row summarizes one error group.
type Row struct {
	Domain   string
	IRQ      int
	Group    string
	Status   string
	Reserved int
	Actions  map[errdomain.ActionKind]int
}

// Summarize counts the actions of every group of reg.
func Summarize(reg *errdomain.Registry) []Row {
	var rows []Row
	for _, d := range reg.Domains() {
		for _, g := range d.Groups {
			row := Row{
				Domain:  d.Name,
				IRQ:     d.IRQ,
				Group:   g.Name,
				Status:  g.Status.String(),
				Actions: make(map[errdomain.ActionKind]int),
			}
			for _, s := range g.Slots {
				if s.Reserved {
					row.Reserved++
				}
				row.Actions[s.Action]++
			}
			rows = append(rows, row)
		}
	}
	return rows
}

func (r Row) actionSummary() string {
	kinds := make([]errdomain.ActionKind, 0, len(r.Actions))
	for k := range r.Actions {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", k, r.Actions[k]))
	}
	return strings.Join(parts, " ")
}

// Render writes rows as a table.
func Render(w io.Writer, rows []Row) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetRowLine(true)
	table.SetHeader([]string{"Domain", "IRQ", "Group", "Status", "Reserved", "Actions"})
	for _, r := range rows {
		table.Append([]string{r.Domain, fmt.Sprint(r.IRQ), r.Group, r.Status, fmt.Sprint(r.Reserved), r.actionSummary()})
	}
	table.Render()
}

func Command(cliContext *cli.Context) error {
	reg, err := errdomain.ClassifyDefault(cliContext.Bool("strict"))
	if err != nil {
		return err
	}
	Render(os.Stdout, Summarize(reg))
	fmt.Printf("\n%d domains, %d bits\n", len(reg.Domains()), reg.Count())
	return nil
}
