// Package report renders finished clusterings for people and spreadsheets.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/charmbracelet/lipgloss"

	"github.com/oho/wpcluster/internal/mathutil"
	"github.com/oho/wpcluster/internal/storage"
)

// Center is one cluster center in display units.
type Center struct {
	Main     float64 `json:"main"`
	Talk     float64 `json:"talk"`
	User     float64 `json:"user"`
	UserTalk float64 `json:"usertalk"`
	Size     int     `json:"size"`
	// Members are point indices into the loaded dataset.
	Members []int `json:"members,omitempty"`
}

func (c Center) Vector() mathutil.FeatureVector {
	return mathutil.NewFeatureVector(c.Main, c.Talk, c.User, c.UserTalk)
}

func centerFrom(v mathutil.FeatureVector, size int, members []int) Center {
	return Center{
		Main:     v.Main(),
		Talk:     v.Talk(),
		User:     v.User(),
		UserTalk: v.UserTalk(),
		Size:     size,
		Members:  members,
	}
}

// Centers extracts the centers of res ordered by main, ascending.
func Centers(res *mathutil.Result) []Center {
	sizes := res.Sizes()
	out := make([]Center, len(res.Clusters))
	for i, cl := range res.Clusters {
		out[i] = centerFrom(cl.Center, sizes[i], cl.Members)
	}
	sortByMain(out)
	return out
}

// StoredCenters converts persisted clusters, ordered by main.
func StoredCenters(clusters []storage.RunCluster) []Center {
	out := make([]Center, len(clusters))
	for i, c := range clusters {
		out[i] = Center{Main: c.Main, Talk: c.Talk, User: c.User, UserTalk: c.UserTalk, Size: c.Size}
	}
	sortByMain(out)
	return out
}

func sortByMain(cs []Center) {
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].Main < cs[j].Main })
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	footerStyle = lipgloss.NewStyle().Faint(true)
)

const tableRow = "%-4s %14s %14s %14s %14s %8s"

// WriteTable prints a human-readable table of centers followed by the SSE.
func WriteTable(w io.Writer, centers []Center, sse float64) error {
	header := fmt.Sprintf(tableRow, "#", "main", "talk", "user", "usertalk", "size")
	if _, err := fmt.Fprintln(w, headerStyle.Render(header)); err != nil {
		return err
	}
	for i, c := range centers {
		_, err := fmt.Fprintf(w, tableRow+"\n",
			strconv.Itoa(i),
			formatValue(c.Main), formatValue(c.Talk), formatValue(c.User), formatValue(c.UserTalk),
			strconv.Itoa(c.Size),
		)
		if err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, footerStyle.Render(fmt.Sprintf("SSE: %s", formatValue(sse))))
	return err
}

// WriteTSV prints one tab-separated row per center, ready for pasting into a
// spreadsheet, then an SSE row.
func WriteTSV(w io.Writer, centers []Center, sse float64) error {
	if _, err := fmt.Fprintln(w, "main\ttalk\tuser\tusertalk\tsize"); err != nil {
		return err
	}
	for _, c := range centers {
		_, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			formatValue(c.Main), formatValue(c.Talk), formatValue(c.User), formatValue(c.UserTalk), c.Size)
		if err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "SSE\t%s\n", formatValue(sse))
	return err
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatValue(f float64) string {
	return strconv.FormatFloat(f, 'g', 8, 64)
}
