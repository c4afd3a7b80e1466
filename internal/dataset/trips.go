package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jengzang/porto-trajectory-go/internal/models"
)

// TripColumns is the column layout of the Porto taxi corpus
var TripColumns = []string{
	"TRIP_ID", "CALL_TYPE", "ORIGIN_CALL", "ORIGIN_STAND", "TAXI_ID",
	"TIMESTAMP", "DAY_TYPE", "MISSING_DATA", "POLYLINE",
}

// ErrMissingColumn is returned when a required CSV column is absent
var ErrMissingColumn = errors.New("missing required column")

// ReadTrips reads trip records. Rows that fail to parse are returned as
// *ParseError values in rowErrs and skipped; only an unreadable file or
// header yields err.
func ReadTrips(r io.Reader) (trips []models.Trip, rowErrs []error, err error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	cols, err := columnIndex(header, "TRIP_ID", "TIMESTAMP", "POLYLINE")
	if err != nil {
		return nil, nil, err
	}

	get := func(record []string, name string) string {
		if i, ok := cols[name]; ok && i < len(record) {
			return record[i]
		}
		return ""
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return trips, rowErrs, fmt.Errorf("failed to read row: %w", err)
		}

		id := get(record, "TRIP_ID")
		ts, convErr := strconv.ParseInt(strings.TrimSpace(get(record, "TIMESTAMP")), 10, 64)
		if convErr != nil {
			rowErrs = append(rowErrs, &ParseError{TripID: id, Field: "TIMESTAMP", Err: convErr})
			continue
		}
		fixes, parseErr := ParsePolyline(id, get(record, "POLYLINE"))
		if parseErr != nil {
			rowErrs = append(rowErrs, parseErr)
			continue
		}

		trips = append(trips, models.Trip{
			ID:          id,
			CallType:    get(record, "CALL_TYPE"),
			OriginCall:  get(record, "ORIGIN_CALL"),
			OriginStand: get(record, "ORIGIN_STAND"),
			TaxiID:      get(record, "TAXI_ID"),
			Timestamp:   ts,
			DayType:     get(record, "DAY_TYPE"),
			MissingData: strings.EqualFold(get(record, "MISSING_DATA"), "true"),
			Fixes:       fixes,
		})
	}

	return trips, rowErrs, nil
}

// WriteTrips writes trips in the corpus layout
func WriteTrips(w io.Writer, trips []models.Trip) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(TripColumns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, t := range trips {
		record := []string{
			t.ID, t.CallType, t.OriginCall, t.OriginStand, t.TaxiID,
			strconv.FormatInt(t.Timestamp, 10), t.DayType,
			strings.ToUpper(strconv.FormatBool(t.MissingData)),
			FormatPolyline(t.Fixes),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write trip %s: %w", t.ID, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func columnIndex(header []string, required ...string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(name, "\uFEFF"))] = i
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}
	return cols, nil
}
