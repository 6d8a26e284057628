package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/srg/shoesensor/internal/scanner"
	"github.com/srg/shoesensor/internal/series"
)

type summaryRecord struct {
	Characteristic string  `json:"characteristic"`
	Count          uint64  `json:"count"`
	Min            int     `json:"min"`
	Max            int     `json:"max"`
	Mean           float64 `json:"mean"`
	Last           int     `json:"last"`
}

// WriteSummaries renders per-characteristic session aggregates.
func WriteSummaries(w io.Writer, format Format, summaries []series.Summary) error {
	records := make([]summaryRecord, 0, len(summaries))
	for _, s := range summaries {
		records = append(records, summaryRecord{
			Characteristic: string(s.Characteristic),
			Count:          s.Count,
			Min:            s.Min,
			Max:            s.Max,
			Mean:           s.Mean,
			Last:           s.Last,
		})
	}

	switch format {
	case FormatJSON:
		return json.NewEncoder(w).Encode(map[string]any{"event": "summary", "characteristics": records})
	case FormatCSV:
		cw := csv.NewWriter(w)
		_ = cw.Write([]string{"characteristic", "count", "min", "max", "mean", "last"})
		for _, r := range records {
			_ = cw.Write([]string{
				r.Characteristic,
				strconv.FormatUint(r.Count, 10),
				strconv.Itoa(r.Min),
				strconv.Itoa(r.Max),
				strconv.FormatFloat(r.Mean, 'f', 2, 64),
				strconv.Itoa(r.Last),
			})
		}
		cw.Flush()
		return cw.Error()
	default:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "CHAR\tCOUNT\tMIN\tMAX\tMEAN\tLAST")
		for _, r := range records {
			if r.Count == 0 {
				fmt.Fprintf(tw, "%s\t0\t-\t-\t-\t-\n", r.Characteristic)
				continue
			}
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.2f\t%d\n", r.Characteristic, r.Count, r.Min, r.Max, r.Mean, r.Last)
		}
		return tw.Flush()
	}
}

type sensorRecord struct {
	Name        string   `json:"name"`
	Address     string   `json:"address"`
	RSSI        int      `json:"rssi"`
	Connectable bool     `json:"connectable"`
	Services    []string `json:"services"`
}

// WriteSensors renders scan results. now is used for the LAST SEEN column.
func WriteSensors(w io.Writer, format Format, sensors []scanner.SensorInfo, now time.Time) error {
	switch format {
	case FormatJSON:
		records := make([]sensorRecord, 0, len(sensors))
		for _, s := range sensors {
			services := s.Services
			if services == nil {
				services = []string{}
			}
			records = append(records, sensorRecord{s.Name, s.Address, s.RSSI, s.Connectable, services})
		}
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(records)
	case FormatCSV:
		cw := csv.NewWriter(w)
		_ = cw.Write([]string{"name", "address", "rssi", "connectable", "services"})
		for _, s := range sensors {
			_ = cw.Write([]string{s.Name, s.Address, strconv.Itoa(s.RSSI), strconv.FormatBool(s.Connectable), strings.Join(s.Services, ";")})
		}
		cw.Flush()
		return cw.Error()
	default:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI\tSERVICES\tLAST SEEN")
		for _, s := range sensors {
			name := s.Name
			if len(name) > 20 {
				name = name[:17] + "..."
			}
			services := strings.Join(s.Services, ",")
			if len(services) > 34 {
				services = services[:31] + "..."
			}
			fmt.Fprintf(tw, "%s\t%s\t%d dBm\t%s\t%s ago\n",
				name, s.Address, s.RSSI, services, now.Sub(s.LastSeen).Truncate(time.Second))
		}
		return tw.Flush()
	}
}
