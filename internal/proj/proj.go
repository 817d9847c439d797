// Package proj implements the coordinate reference systems the pipeline's
// configured sources use: geographic WGS84, UTM (transverse Mercator on the
// WGS84 ellipsoid), the HRRR Lambert conformal conic, and the MODIS
// sinusoidal projection. It is deliberately not a general projection engine;
// the master grid only ever targets one of these.
package proj

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// WGS84 ellipsoid constants.
const (
	wgs84A  = 6378137.0
	wgs84F  = 1.0 / 298.257223563
	deg2rad = math.Pi / 180.0
	rad2deg = 180.0 / math.Pi
)

// CRS converts between geographic coordinates (degrees, WGS84 datum) and
// projected coordinates in the CRS's linear units.
type CRS interface {
	// Code returns the identifier the CRS was constructed from, e.g.
	// "EPSG:32611". Used for provenance attributes and equality checks.
	Code() string
	// Forward projects lon/lat in degrees to x/y.
	Forward(lon, lat float64) (x, y float64)
	// Inverse unprojects x/y to lon/lat in degrees.
	Inverse(x, y float64) (lon, lat float64)
	// Geographic reports whether x/y are themselves degrees.
	Geographic() bool
}

// Transform converts a point from one CRS to another by routing through
// geographic coordinates.
func Transform(src, dst CRS, x, y float64) (float64, float64) {
	if src.Code() == dst.Code() {
		return x, y
	}
	lon, lat := src.Inverse(x, y)
	return dst.Forward(lon, lat)
}

// Parse resolves a CRS identifier. Supported forms:
//
//	EPSG:4326                      geographic WGS84
//	EPSG:326zz / EPSG:327zz        UTM zone zz north / south
//	lcc:lat1,lat2,lat0,lon0,R      spherical Lambert conformal conic
//	sinu:R                         spherical sinusoidal
func Parse(code string) (CRS, error) {
	switch {
	case strings.EqualFold(code, "EPSG:4326"):
		return Geographic(), nil
	case strings.HasPrefix(strings.ToUpper(code), "EPSG:326"), strings.HasPrefix(strings.ToUpper(code), "EPSG:327"):
		n, err := strconv.Atoi(code[len("EPSG:"):])
		if err != nil {
			return nil, fmt.Errorf("parse CRS %q: %w", code, err)
		}
		zone := n % 100
		if zone < 1 || zone > 60 {
			return nil, fmt.Errorf("parse CRS %q: UTM zone %d out of range", code, zone)
		}
		return UTM(zone, n/100 == 326), nil
	case strings.HasPrefix(code, "lcc:"):
		parts := strings.Split(code[len("lcc:"):], ",")
		if len(parts) != 5 {
			return nil, fmt.Errorf("parse CRS %q: want lcc:lat1,lat2,lat0,lon0,R", code)
		}
		vals := make([]float64, 5)
		for i, p := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return nil, fmt.Errorf("parse CRS %q: %w", code, err)
			}
			vals[i] = v
		}
		return LambertConformal(vals[0], vals[1], vals[2], vals[3], vals[4]), nil
	case strings.HasPrefix(code, "sinu:"):
		r, err := strconv.ParseFloat(code[len("sinu:"):], 64)
		if err != nil {
			return nil, fmt.Errorf("parse CRS %q: %w", code, err)
		}
		return Sinusoidal(r), nil
	default:
		return nil, fmt.Errorf("parse CRS %q: unsupported identifier", code)
	}
}

// geographic is plain lon/lat degrees.
type geographic struct{}

// Geographic returns the WGS84 geographic CRS (EPSG:4326).
func Geographic() CRS { return geographic{} }

func (geographic) Code() string                                { return "EPSG:4326" }
func (geographic) Forward(lon, lat float64) (float64, float64) { return lon, lat }
func (geographic) Inverse(x, y float64) (float64, float64)     { return x, y }
func (geographic) Geographic() bool                            { return true }

// utm is a transverse Mercator projection on the WGS84 ellipsoid with the
// standard UTM central scale factor and false easting/northing.
// Series expansions follow Snyder, "Map Projections: A Working Manual" (1987).
type utm struct {
	zone  int
	north bool
	lon0  float64 // central meridian, radians
}

// UTM returns the CRS for the given UTM zone and hemisphere.
func UTM(zone int, north bool) CRS {
	return utm{zone: zone, north: north, lon0: float64(zone*6-183) * deg2rad}
}

func (u utm) Code() string {
	if u.north {
		return fmt.Sprintf("EPSG:326%02d", u.zone)
	}
	return fmt.Sprintf("EPSG:327%02d", u.zone)
}

func (utm) Geographic() bool { return false }

const (
	utmK0 = 0.9996
	utmFE = 500000.0
	utmFN = 10000000.0 // southern hemisphere only
)

func (u utm) falseNorthing() float64 {
	if u.north {
		return 0
	}
	return utmFN
}

// meridianArc returns the distance along the central meridian from the
// equator to latitude phi.
func meridianArc(phi float64) float64 {
	e2 := wgs84F * (2 - wgs84F)
	e4 := e2 * e2
	e6 := e4 * e2
	return wgs84A * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))
}

func (u utm) Forward(lon, lat float64) (float64, float64) {
	phi := lat * deg2rad
	lam := lon * deg2rad

	e2 := wgs84F * (2 - wgs84F)
	ep2 := e2 / (1 - e2)
	sin, cos := math.Sincos(phi)

	n := wgs84A / math.Sqrt(1-e2*sin*sin)
	t := math.Tan(phi) * math.Tan(phi)
	c := ep2 * cos * cos
	a := (lam - u.lon0) * cos

	x := utmFE + utmK0*n*(a+
		(1-t+c)*a*a*a/6+
		(5-18*t+t*t+72*c-58*ep2)*math.Pow(a, 5)/120)
	y := u.falseNorthing() + utmK0*(meridianArc(phi)+
		n*math.Tan(phi)*(a*a/2+
			(5-t+9*c+4*c*c)*math.Pow(a, 4)/24+
			(61-58*t+t*t+600*c-330*ep2)*math.Pow(a, 6)/720))
	return x, y
}

func (u utm) Inverse(x, y float64) (float64, float64) {
	e2 := wgs84F * (2 - wgs84F)
	ep2 := e2 / (1 - e2)

	m := (y - u.falseNorthing()) / utmK0
	mu := m / (wgs84A * (1 - e2/4 - 3*e2*e2/64 - 5*e2*e2*e2/256))

	e1 := (1 - math.Sqrt(1-e2)) / (1 + math.Sqrt(1-e2))
	phi1 := mu +
		(3*e1/2-27*e1*e1*e1/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*e1*e1*e1*e1/32)*math.Sin(4*mu) +
		(151*e1*e1*e1/96)*math.Sin(6*mu) +
		(1097*e1*e1*e1*e1/512)*math.Sin(8*mu)

	sin1, cos1 := math.Sincos(phi1)
	c1 := ep2 * cos1 * cos1
	t1 := math.Tan(phi1) * math.Tan(phi1)
	n1 := wgs84A / math.Sqrt(1-e2*sin1*sin1)
	r1 := wgs84A * (1 - e2) / math.Pow(1-e2*sin1*sin1, 1.5)
	d := (x - utmFE) / (n1 * utmK0)

	phi := phi1 - (n1*math.Tan(phi1)/r1)*
		(d*d/2-
			(5+3*t1+10*c1-4*c1*c1-9*ep2)*math.Pow(d, 4)/24+
			(61+90*t1+298*c1+45*t1*t1-252*ep2-3*c1*c1)*math.Pow(d, 6)/720)
	lam := u.lon0 + (d-
		(1+2*t1+c1)*d*d*d/6+
		(5-2*c1+28*t1-3*c1*c1+8*ep2+24*t1*t1)*math.Pow(d, 5)/120)/cos1

	return lam * rad2deg, phi * rad2deg
}

// lcc is a spherical Lambert conformal conic, the HRRR native projection.
type lcc struct {
	code       string
	lat1, lat2 float64 // standard parallels, radians
	lat0, lon0 float64 // origin, radians
	r          float64 // sphere radius, meters
	n, f, rho0 float64 // derived cone constants
}

// LambertConformal returns a spherical Lambert conformal conic CRS.
// Angles are degrees; r is the sphere radius in meters.
func LambertConformal(lat1, lat2, lat0, lon0, r float64) CRS {
	p := lcc{
		code: "lcc:" + strings.Join([]string{
			fnum(lat1), fnum(lat2), fnum(lat0), fnum(lon0), fnum(r),
		}, ","),
		lat1: lat1 * deg2rad,
		lat2: lat2 * deg2rad,
		lat0: lat0 * deg2rad,
		lon0: normalizeLon(lon0) * deg2rad,
		r:    r,
	}
	if math.Abs(p.lat1-p.lat2) < 1e-10 {
		p.n = math.Sin(p.lat1)
	} else {
		p.n = math.Log(math.Cos(p.lat1)/math.Cos(p.lat2)) /
			math.Log(math.Tan(math.Pi/4+p.lat2/2)/math.Tan(math.Pi/4+p.lat1/2))
	}
	p.f = math.Cos(p.lat1) * math.Pow(math.Tan(math.Pi/4+p.lat1/2), p.n) / p.n
	p.rho0 = p.r * p.f / math.Pow(math.Tan(math.Pi/4+p.lat0/2), p.n)
	return p
}

func (p lcc) Code() string   { return p.code }
func (lcc) Geographic() bool { return false }

func (p lcc) Forward(lon, lat float64) (float64, float64) {
	phi := lat * deg2rad
	lam := normalizeLon(lon)*deg2rad - p.lon0
	// Keep the cone angle in (-pi, pi] so points straddling the antimeridian
	// relative to the central meridian project to the near side.
	lam = math.Mod(lam+3*math.Pi, 2*math.Pi) - math.Pi

	rho := p.r * p.f / math.Pow(math.Tan(math.Pi/4+phi/2), p.n)
	theta := p.n * lam
	return rho * math.Sin(theta), p.rho0 - rho*math.Cos(theta)
}

func (p lcc) Inverse(x, y float64) (float64, float64) {
	rho := math.Sqrt(x*x + (p.rho0-y)*(p.rho0-y))
	if p.n < 0 {
		rho = -rho
	}
	theta := math.Atan2(x, p.rho0-y)
	phi := 2*math.Atan(math.Pow(p.r*p.f/rho, 1/p.n)) - math.Pi/2
	lam := p.lon0 + theta/p.n
	return normalizeLon(lam * rad2deg), phi * rad2deg
}

// sinusoidal is the spherical sinusoidal projection MODIS tiles use.
type sinusoidal struct {
	r float64
}

// Sinusoidal returns a spherical sinusoidal CRS with radius r meters.
func Sinusoidal(r float64) CRS { return sinusoidal{r: r} }

func (p sinusoidal) Code() string   { return "sinu:" + fnum(p.r) }
func (sinusoidal) Geographic() bool { return false }

func (p sinusoidal) Forward(lon, lat float64) (float64, float64) {
	phi := lat * deg2rad
	lam := normalizeLon(lon) * deg2rad
	return p.r * lam * math.Cos(phi), p.r * phi
}

func (p sinusoidal) Inverse(x, y float64) (float64, float64) {
	phi := y / p.r
	lam := x / (p.r * math.Cos(phi))
	return normalizeLon(lam * rad2deg), phi * rad2deg
}

// fnum formats a parameter without exponent notation so constructed
// codes survive a Parse round trip.
func fnum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// normalizeLon wraps a longitude in degrees into [-180, 180).
func normalizeLon(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}
