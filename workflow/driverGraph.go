package workflow

import (
	"fmt"

	"github.com/finsightapps/forecast_backend/forecast"
	"github.com/finsightapps/forecast_backend/models"
)

// DriverResolution is the computed processing plan for one forecast run:
// line items reordered so every resolvable driver is calculated before its
// dependents, the surviving driver edges, and a note per line whose driver
// could not be honored (unknown code, self reference, or a cycle). Lines in
// FallbackDriver still know who their driver is; they get its historical
// values but no forecast. Lines with an unknown driver get neither and
// degrade to zero inside the calculator.
type DriverResolution struct {
	Ordered        []*models.LineItem
	DriverOf       map[string]string
	FallbackDriver map[string]string
	Notes          map[string]string
}

// ResolveDriverOrder builds the driver dependency graph from the active
// percent_of_revenue configs and topologically sorts the line items.
// Independent lines keep their input order, which keeps runs deterministic.
func ResolveDriverOrder(items []*models.LineItem, configs map[string]*models.MethodologyConfig) DriverResolution {

	res := DriverResolution{
		DriverOf:       map[string]string{},
		FallbackDriver: map[string]string{},
		Notes:          map[string]string{},
	}

	index := buildCodeIndex(items)

	// dependents grouped per driver, in input order
	dependents := map[string][]string{}
	inDegree := make(map[string]int, len(items))
	byId := make(map[string]*models.LineItem, len(items))
	for _, item := range items {
		byId[item.ID.String()] = item
		inDegree[item.ID.String()] = 0
	}

	for _, item := range items {
		id := item.ID.String()
		cfg := configs[id]
		if cfg == nil || cfg.Methodology != models.MethodologyPercentOfRevenue {
			continue
		}
		code := driverCodeOf(cfg)
		if code == "" {
			res.Notes[id] = "percent of revenue line has no driver line configured"
			continue
		}
		driverId, ok := lookupDriver(index, item.StatementType, code)
		if !ok {
			res.Notes[id] = fmt.Sprintf("driver line %q is not part of this run", code)
			continue
		}
		if driverId == id {
			res.FallbackDriver[id] = id
			res.Notes[id] = fmt.Sprintf("line drives itself through %q; using its own history", code)
			continue
		}
		res.DriverOf[id] = driverId
		dependents[driverId] = append(dependents[driverId], id)
		inDegree[id]++
	}

	// Kahn's algorithm seeded in input order: stable for independent lines.
	queue := make([]string, 0, len(items))
	for _, item := range items {
		if inDegree[item.ID.String()] == 0 {
			queue = append(queue, item.ID.String())
		}
	}
	done := make(map[string]bool, len(items))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		done[id] = true
		res.Ordered = append(res.Ordered, byId[id])
		for _, dependent := range dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	// whatever is left sits on a cycle: break the edges and fall back
	for _, item := range items {
		id := item.ID.String()
		if done[id] {
			continue
		}
		if driverId, ok := res.DriverOf[id]; ok {
			res.FallbackDriver[id] = driverId
			delete(res.DriverOf, id)
		}
		res.Notes[id] = "driver dependency forms a cycle; using the driver's historical values"
		res.Ordered = append(res.Ordered, item)
	}

	return res
}

// buildCodeIndex maps statement-qualified and bare line codes to line ids.
// The statement-qualified key wins when both statements carry the same code.
func buildCodeIndex(items []*models.LineItem) map[string]string {
	index := make(map[string]string, len(items)*2)
	for _, item := range items {
		code := models.NormalizeLineCode(item.LineCode)
		qualified := models.LineItemKey(item.StatementType, code)
		if _, exists := index[qualified]; !exists {
			index[qualified] = item.ID.String()
		}
		if _, exists := index[code]; !exists {
			index[code] = item.ID.String()
		}
	}
	return index
}

func lookupDriver(index map[string]string, statement models.StatementType, code string) (string, bool) {
	if id, ok := index[models.LineItemKey(statement, code)]; ok {
		return id, true
	}
	id, ok := index[code]
	return id, ok
}

func driverCodeOf(cfg *models.MethodologyConfig) string {
	params, err := cfg.Parameters()
	if err != nil {
		return ""
	}
	decoded, err := forecast.DecodeParams(string(cfg.Methodology), params)
	if err != nil {
		return ""
	}
	if p, ok := decoded.(*forecast.PercentOfRevenueParams); ok {
		return models.NormalizeLineCode(p.DriverLineCode)
	}
	return ""
}
