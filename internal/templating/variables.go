package templating

import "slices"

type Variable struct {
	Key    string `json:"key"`
	Label  string `json:"label"`
	Sample string `json:"sample"`
}

var catalogue = []Variable{
	{Key: "customer_name", Label: "Customer Name", Sample: "John Smith"},
	{Key: "customer_phone", Label: "Customer Phone", Sample: "+1 (555) 123-4567"},
	{Key: "customer_email", Label: "Customer Email", Sample: "john@example.com"},
	{Key: "order_id", Label: "Order ID", Sample: "#12345"},
	{Key: "order_status", Label: "Order Status", Sample: "Shipped"},
	{Key: "date", Label: "Current Date", Sample: "March 15, 2024"},
	{Key: "time", Label: "Current Time", Sample: "2:30 PM"},
	{Key: "business_name", Label: "Business Name", Sample: "Your Company"},
}

// Variables lists the placeholders offered to template authors.
func Variables() []Variable {
	return slices.Clone(catalogue)
}

func SampleBindings() map[string]string {
	out := make(map[string]string, len(catalogue))
	for _, v := range catalogue {
		out[v.Key] = v.Sample
	}
	return out
}

// Preview renders template with the sample values, with overrides taking precedence.
func Preview(template string, overrides map[string]string) string {
	bindings := SampleBindings()
	for k, v := range overrides {
		bindings[k] = v
	}
	return Substitute(template, bindings)
}

type Analysis struct {
	Placeholders []string `json:"variables"`
	Unknown      []string `json:"unknown"`
}

// Analyze splits the template's placeholders into the full list and the ones
// missing from the catalogue.
func Analyze(template string) Analysis {
	a := Analysis{
		Placeholders: ExtractPlaceholders(template),
		Unknown:      make([]string, 0),
	}
	for _, p := range a.Placeholders {
		if !IsKnown(p) {
			a.Unknown = append(a.Unknown, p)
		}
	}
	return a
}

func IsKnown(key string) bool {
	return slices.ContainsFunc(catalogue, func(v Variable) bool { return v.Key == key })
}
