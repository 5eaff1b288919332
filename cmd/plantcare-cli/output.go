package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"google.golang.org/protobuf/types/known/structpb"
)

type outputMode struct {
	json bool
}

func (o outputMode) printJSON(value any) {
	if s, ok := value.(*structpb.Struct); ok {
		value = s.AsMap()
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		fatal("format json", err)
	}
	fmt.Println(string(data))
}

func (o outputMode) table(rows [][]string) {
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

func field(s *structpb.Struct, path ...string) *structpb.Value {
	var v *structpb.Value
	for i, key := range path {
		v = s.GetFields()[key]
		if i < len(path)-1 {
			s = v.GetStructValue()
		}
	}
	return v
}

func text(v *structpb.Value) string {
	switch v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return v.GetStringValue()
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(v.GetNumberValue(), 'f', -1, 64)
	case *structpb.Value_BoolValue:
		if v.GetBoolValue() {
			return "yes"
		}
		return "no"
	default:
		return "-"
	}
}

func percent(v *structpb.Value) string {
	if _, ok := v.GetKind().(*structpb.Value_NumberValue); !ok {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", v.GetNumberValue())
}
