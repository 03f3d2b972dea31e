// README: YAML route seed file decoding and validation.
package route

import (
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"sharetaxi/internal/types"
)

type seedStop struct {
	ID   string  `yaml:"id" validate:"required"`
	Name string  `yaml:"name"`
	Lat  float64 `yaml:"lat" validate:"gte=-90,lte=90"`
	Lng  float64 `yaml:"lng" validate:"gte=-180,lte=180"`
}

type seedRoute struct {
	ID    string     `yaml:"id" validate:"required"`
	Name  string     `yaml:"name"`
	Stops []seedStop `yaml:"stops" validate:"required,min=2,dive"`
}

type seedFile struct {
	Routes []seedRoute `yaml:"routes" validate:"dive"`
}

// DecodeSeed parses a YAML document of the form:
//
//	routes:
//	  - id: R1
//	    stops:
//	      - {id: A, lat: 25.03, lng: 121.56}
func DecodeSeed(r io.Reader) ([]Route, error) {
	var f seedFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode route seed: %w", err)
	}
	if err := validator.New().Struct(f); err != nil {
		return nil, fmt.Errorf("validate route seed: %w", err)
	}
	routes := make([]Route, 0, len(f.Routes))
	for _, sr := range f.Routes {
		r := Route{ID: types.ID(sr.ID), Name: sr.Name, Stops: make([]Stop, 0, len(sr.Stops))}
		for _, ss := range sr.Stops {
			r.Stops = append(r.Stops, Stop{
				ID:       types.ID(ss.ID),
				Name:     ss.Name,
				Location: types.Point{Lat: ss.Lat, Lng: ss.Lng},
			})
		}
		routes = append(routes, r)
	}
	return routes, nil
}

func LoadSeedFile(path string) ([]Route, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeSeed(f)
}
