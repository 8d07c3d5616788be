package factory

// =============================================================================
// DEFAULT PRICING GRID
// =============================================================================

// DefaultFixturesJSON is the 2019 pricing grid of Le Grand Cèdre.
//
// Individual rooms have no band between 1.5h and 4h: a 2h day in a cabinet
// has no price until an operator adds one.
const DefaultFixturesJSON = `{
  "pricings": [
    {"table": "individual_modular", "duration_from": 0,   "duration_to": 1,   "valid_from": "2019-01-01", "hourly_price": "10.90"},
    {"table": "individual_modular", "duration_from": 1,   "duration_to": 1.5, "valid_from": "2019-01-01", "hourly_price": "10.00"},
    {"table": "individual_modular", "duration_from": 4,   "duration_to": 4.5, "valid_from": "2019-01-01", "hourly_price": "9.00"},
    {"table": "individual_modular", "duration_from": 4.5, "duration_to": 8,   "valid_from": "2019-01-01", "hourly_price": "8.50"},

    {"table": "collective_regular", "duration_from": 0,   "duration_to": 1,   "valid_from": "2019-01-01", "hourly_price": "15.65"},
    {"table": "collective_regular", "duration_from": 1,   "duration_to": 1.5, "valid_from": "2019-01-01", "hourly_price": "13.62"},
    {"table": "collective_regular", "duration_from": 1.5, "duration_to": 2,   "valid_from": "2019-01-01", "hourly_price": "13.21"},
    {"table": "collective_regular", "duration_from": 2,   "duration_to": 2.5, "valid_from": "2019-01-01", "hourly_price": "12.80"},
    {"table": "collective_regular", "duration_from": 2.5, "duration_to": 3,   "valid_from": "2019-01-01", "hourly_price": "12.26"},
    {"table": "collective_regular", "duration_from": 3,   "duration_to": 4.5, "valid_from": "2019-01-01", "hourly_price": "11.50"},
    {"table": "collective_regular", "duration_from": 4.5, "duration_to": 8,   "valid_from": "2019-01-01", "hourly_price": "10.90"},
    {"table": "collective_regular", "duration_from": 8,                       "valid_from": "2019-01-01", "hourly_price": "9.78"},

    {"table": "collective_occasional", "duration_from": 0, "duration_to": 1,   "valid_from": "2019-01-01", "hourly_price": "18.00"},
    {"table": "collective_occasional", "duration_from": 1, "duration_to": 4.5, "valid_from": "2019-01-01", "hourly_price": "15.00"},
    {"table": "collective_occasional", "duration_from": 4.5,                   "valid_from": "2019-01-01", "hourly_price": "12.50"},

    {"table": "recurring", "duration_from": 0,   "duration_to": 240, "valid_from": "2019-01-01", "monthly_price": "160.00"},
    {"table": "recurring", "duration_from": 240, "duration_to": 480, "valid_from": "2019-01-01", "monthly_price": "300.00"},
    {"table": "recurring", "duration_from": 480,                     "valid_from": "2019-01-01", "monthly_price": "550.00"},

    {"table": "flat_rate", "valid_from": "2019-01-01", "flat_rate": "9.00", "prepaid_hours": 40}
  ]
}`

// DefaultFixtures returns the parsed default pricing grid.
func DefaultFixtures() FixturesJSON {
	f, err := ParseFixtures([]byte(DefaultFixturesJSON))
	if err != nil {
		panic(err)
	}
	return f
}
