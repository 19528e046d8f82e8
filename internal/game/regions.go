package game

import (
	"fmt"
	"strings"
)

type Region string

const (
	RegionAsia         Region = "asia"
	RegionEurope       Region = "europe"
	RegionNorthAmerica Region = "north_america"
	RegionSouthAmerica Region = "south_america"
	RegionAfrica       Region = "africa"
	RegionOceania      Region = "oceania"
)

var countryRegions = map[string]Region{
	"CN": RegionAsia, "JP": RegionAsia, "IN": RegionAsia, "KR": RegionAsia, "TH": RegionAsia, "VN": RegionAsia,
	"PH": RegionAsia, "MY": RegionAsia, "SG": RegionAsia, "ID": RegionAsia, "PK": RegionAsia, "BD": RegionAsia,
	"GB": RegionEurope, "DE": RegionEurope, "FR": RegionEurope, "IT": RegionEurope, "ES": RegionEurope,
	"NL": RegionEurope, "SE": RegionEurope, "NO": RegionEurope, "PL": RegionEurope, "RU": RegionEurope,
	"US": RegionNorthAmerica, "CA": RegionNorthAmerica, "MX": RegionNorthAmerica,
	"BR": RegionSouthAmerica, "AR": RegionSouthAmerica, "CL": RegionSouthAmerica,
	"CO": RegionSouthAmerica, "PE": RegionSouthAmerica, "VE": RegionSouthAmerica,
	"ZA": RegionAfrica, "NG": RegionAfrica, "EG": RegionAfrica, "KE": RegionAfrica, "GH": RegionAfrica,
	"AU": RegionOceania, "NZ": RegionOceania, "FJ": RegionOceania, "PG": RegionOceania,
}

// RegionForCountry maps an ISO country code to a leaderboard region.
// Unknown codes land in north_america.
func RegionForCountry(code string) Region {
	if r, ok := countryRegions[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return r
	}
	return RegionNorthAmerica
}

func ParseRegion(s string) (Region, error) {
	switch r := Region(strings.ToLower(strings.TrimSpace(s))); r {
	case "", RegionAsia, RegionEurope, RegionNorthAmerica, RegionSouthAmerica, RegionAfrica, RegionOceania:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown region %q", ErrInvalidInput, s)
	}
}
