package gdexposure

// OwnerReport is the consolidated set of exposures confirmed for one owner
// in a single run. Exactly one message is composed per OwnerReport.
type OwnerReport struct {
	Owner     string
	Exposures []*ConfirmedExposure
}

// GroupByOwner partitions confirmed exposures by owner email. Owners appear
// in the order their first exposure was confirmed, and each owner's
// exposures keep their relative order. Uniqueness per doc_id is already
// guaranteed upstream, no further deduplication happens here.
func GroupByOwner(exposures []*ConfirmedExposure) []*OwnerReport {
	reports := make([]*OwnerReport, 0, len(exposures))
	byOwner := make(map[string]*OwnerReport, len(exposures))
	for _, exposure := range exposures {
		report, ok := byOwner[exposure.Owner]
		if !ok {
			report = &OwnerReport{Owner: exposure.Owner}
			byOwner[exposure.Owner] = report
			reports = append(reports, report)
		}
		report.Exposures = append(report.Exposures, exposure)
	}
	return reports
}
