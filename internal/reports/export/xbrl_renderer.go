package export

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"time"

	"carbon-scribe/ghg-reporting/internal/emissions"
	"carbon-scribe/ghg-reporting/internal/frameworks"
	"carbon-scribe/ghg-reporting/internal/inventory"
	"carbon-scribe/ghg-reporting/internal/reports"
)

// Taxonomy names the concepts one framework's XBRL facts are tagged with
type Taxonomy struct {
	Prefix    string
	Namespace string
	SchemaRef string
	Entity    string
	Scope1    string
	Scope2LB  string
	Scope2MB  string
	Scope3    string
	TotalLB   string
	TotalMB   string
}

var taxonomies = map[frameworks.FrameworkID]Taxonomy{
	frameworks.FrameworkCSRD: {
		Prefix:    "esrs",
		Namespace: "https://xbrl.efrag.org/taxonomy/esrs/2023-12-22",
		SchemaRef: "https://xbrl.efrag.org/taxonomy/esrs/2023-12-22/esrs_all.xsd",
		Entity:    "NameOfReportingEntity",
		Scope1:    "GrossScope1GreenhouseGasEmissions",
		Scope2LB:  "GrossLocationBasedScope2GreenhouseGasEmissions",
		Scope2MB:  "GrossMarketBasedScope2GreenhouseGasEmissions",
		Scope3:    "GrossScope3GreenhouseGasEmissions",
		TotalLB:   "TotalGHGEmissionsLocationBased",
		TotalMB:   "TotalGHGEmissionsMarketBased",
	},
	frameworks.FrameworkISSB: {
		Prefix:    "ifrs-sds",
		Namespace: "https://xbrl.ifrs.org/taxonomy/2024-04-26/ifrs-sds",
		SchemaRef: "https://xbrl.ifrs.org/taxonomy/2024-04-26/ifrs-sds/full_ifrs_sds-cor_2024-04-26.xsd",
		Entity:    "NameOfReportingEntity",
		Scope1:    "GrossScope1GreenhouseGasEmissions",
		Scope2LB:  "GrossLocationbasedScope2GreenhouseGasEmissions",
		Scope2MB:  "GrossMarketbasedScope2GreenhouseGasEmissions",
		Scope3:    "GrossScope3GreenhouseGasEmissions",
		TotalLB:   "GrossGreenhouseGasEmissionsLocationBased",
		TotalMB:   "GrossGreenhouseGasEmissions",
	},
}

// defaultTaxonomy tags frameworks without a published taxonomy
var defaultTaxonomy = Taxonomy{
	Prefix:    "ghg",
	Namespace: "urn:carbon-scribe:ghg:2024",
	SchemaRef: "ghg-2024.xsd",
	Entity:    "ReportingEntityName",
	Scope1:    "Scope1Emissions",
	Scope2LB:  "Scope2LocationBasedEmissions",
	Scope2MB:  "Scope2MarketBasedEmissions",
	Scope3:    "Scope3Emissions",
	TotalLB:   "TotalEmissionsLocationBased",
	TotalMB:   "TotalEmissionsMarketBased",
}

// TaxonomyFor returns the concept names used for a framework
func TaxonomyFor(id frameworks.FrameworkID) Taxonomy {
	if t, ok := taxonomies[id]; ok {
		return t
	}
	return defaultTaxonomy
}

// =====================================================
// Instance document
// =====================================================

type xbrlInstance struct {
	XMLName   xml.Name      `xml:"xbrli:xbrl"`
	XBRLI     string        `xml:"xmlns:xbrli,attr"`
	Link      string        `xml:"xmlns:link,attr"`
	XLink     string        `xml:"xmlns:xlink,attr"`
	ISO4217   string        `xml:"xmlns:iso4217,attr"`
	TaxonAttr xml.Attr      `xml:",any,attr"`
	SchemaRef xbrlSchemaRef `xml:"link:schemaRef"`
	Context   xbrlContext   `xml:"xbrli:context"`
	Unit      xbrlUnit      `xml:"xbrli:unit"`
	Facts     []xbrlFact
}

type xbrlSchemaRef struct {
	Type string `xml:"xlink:type,attr"`
	Href string `xml:"xlink:href,attr"`
}

type xbrlContext struct {
	ID     string     `xml:"id,attr"`
	Entity xbrlEntity `xml:"xbrli:entity"`
	Period xbrlPeriod `xml:"xbrli:period"`
}

type xbrlEntity struct {
	Identifier xbrlIdentifier `xml:"xbrli:identifier"`
}

type xbrlIdentifier struct {
	Scheme string `xml:"scheme,attr"`
	Value  string `xml:",chardata"`
}

type xbrlPeriod struct {
	StartDate string `xml:"xbrli:startDate"`
	EndDate   string `xml:"xbrli:endDate"`
}

type xbrlUnit struct {
	ID      string `xml:"id,attr"`
	Measure string `xml:"xbrli:measure"`
}

type xbrlFact struct {
	XMLName    xml.Name
	ContextRef string `xml:"contextRef,attr"`
	UnitRef    string `xml:"unitRef,attr,omitempty"`
	Decimals   string `xml:"decimals,attr,omitempty"`
	Value      string `xml:",chardata"`
}

const (
	xbrlContextID = "current"
	xbrlUnitID    = "tCO2e"
)

// XBRLRenderer renders the headline emission figures as an XBRL instance
type XBRLRenderer struct{}

// NewXBRLRenderer creates an XBRL renderer
func NewXBRLRenderer() *XBRLRenderer {
	return &XBRLRenderer{}
}

func (r *XBRLRenderer) Format() frameworks.Format { return frameworks.FormatXBRL }

func (r *XBRLRenderer) ContentType() string { return "application/xbrl+xml" }

// Render tags the entity name and every scope figure that has results. Scope
// totals without results are omitted rather than reported as zero.
func (r *XBRLRenderer) Render(report *reports.GeneratedReport, inv *inventory.Inventory) ([]byte, error) {
	t := TaxonomyFor(report.Metadata.Framework)

	doc := xbrlInstance{
		XBRLI:     "http://www.xbrl.org/2003/instance",
		Link:      "http://www.xbrl.org/2003/linkbase",
		XLink:     "http://www.w3.org/1999/xlink",
		ISO4217:   "http://www.xbrl.org/2003/iso4217",
		TaxonAttr: xml.Attr{Name: xml.Name{Local: "xmlns:" + t.Prefix}, Value: t.Namespace},
		SchemaRef: xbrlSchemaRef{Type: "simple", Href: t.SchemaRef},
		Context: xbrlContext{
			ID: xbrlContextID,
			Entity: xbrlEntity{Identifier: xbrlIdentifier{
				Scheme: "urn:uuid",
				Value:  inv.Organization.ID.String(),
			}},
			Period: xbrlPeriod{
				StartDate: inv.Period.Start.Format(time.DateOnly),
				EndDate:   inv.Period.End.Format(time.DateOnly),
			},
		},
		Unit: xbrlUnit{ID: xbrlUnitID, Measure: t.Prefix + ":" + xbrlUnitID},
	}

	doc.Facts = append(doc.Facts, xbrlFact{
		XMLName:    xml.Name{Local: t.Prefix + ":" + t.Entity},
		ContextRef: xbrlContextID,
		Value:      inv.Organization.Name,
	})

	numeric := func(concept string, v float64) {
		doc.Facts = append(doc.Facts, xbrlFact{
			XMLName:    xml.Name{Local: t.Prefix + ":" + concept},
			ContextRef: xbrlContextID,
			UnitRef:    xbrlUnitID,
			Decimals:   "3",
			Value:      strconv.FormatFloat(v, 'f', 3, 64),
		})
	}
	if inv.HasScope(emissions.Scope1) {
		numeric(t.Scope1, inv.Totals.Scope1)
	}
	if len(inv.Scope2.LocationBased) > 0 {
		numeric(t.Scope2LB, inv.Totals.Scope2LocationBased)
	}
	if len(inv.Scope2.MarketBased) > 0 {
		numeric(t.Scope2MB, inv.Totals.Scope2MarketBased)
	}
	if inv.HasScope(emissions.Scope3) {
		numeric(t.Scope3, inv.Totals.Scope3)
	}
	if inv.ResultCount > 0 {
		numeric(t.TotalLB, inv.Totals.GrandTotalLocationBased)
		numeric(t.TotalMB, inv.Totals.GrandTotal)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode xbrl instance: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("failed to encode xbrl instance: %w", err)
	}
	return buf.Bytes(), nil
}
