package service

import (
	"context"
	"fmt"

	"spc2mqtt/internal/config"
	"spc2mqtt/internal/logger"
	"spc2mqtt/internal/models"
	"spc2mqtt/internal/spc"
)

// PanelScanner implements Scanner over the shared panel client. Zones and
// sectors are always fetched; door and output pages only when their
// information flag is on, so a disabled category costs the panel nothing.
type PanelScanner struct {
	client  *spc.Client
	session *spc.SessionManager
	info    config.CategoryFlags
	log     *logger.Logger
}

// NewPanelScanner builds a scanner over the shared client and session.
func NewPanelScanner(client *spc.Client, session *spc.SessionManager, info config.CategoryFlags, log *logger.Logger) *PanelScanner {
	return &PanelScanner{client: client, session: session, info: info, log: log}
}

// ScanStates runs one fast scan.
func (s *PanelScanner) ScanStates(ctx context.Context) (models.PanelState, error) {
	sid := s.session.GetOrLogin(ctx)
	if sid == "" {
		return models.PanelState{}, spc.ErrNoSession
	}

	var st models.PanelState

	resp, err := s.client.Get(ctx, spc.PagePath(sid, spc.PageZones))
	if err != nil {
		return st, fmt.Errorf("fetch zones: %w", err)
	}
	st.Zones = spc.ParseZones(resp.Body)

	resp, err = s.client.Get(ctx, spc.PagePath(sid, spc.PageHome))
	if err != nil {
		return st, fmt.Errorf("fetch sectors: %w", err)
	}
	st.Sectors = spc.ParseSectors(resp.Body)

	if s.info.Doors {
		resp, err = s.client.Get(ctx, spc.PagePath(sid, spc.PageDoors))
		if err != nil {
			return st, fmt.Errorf("fetch doors: %w", err)
		}
		st.Doors = spc.ParseDoors(resp.Body)
	}

	if s.info.Outputs {
		resp, err = s.client.Get(ctx, spc.PagePath(sid, spc.PageOutputs))
		if err != nil {
			return st, fmt.Errorf("fetch outputs: %w", err)
		}
		st.Outputs = spc.ParseOutputs(resp.Body)
	}

	return st, nil
}

// ScanController runs one controller-status scan.
func (s *PanelScanner) ScanController(ctx context.Context) ([]models.ControllerEntry, error) {
	sid := s.session.GetOrLogin(ctx)
	if sid == "" {
		return nil, spc.ErrNoSession
	}
	resp, err := s.client.Get(ctx, spc.PagePath(sid, spc.PageController))
	if err != nil {
		return nil, fmt.Errorf("fetch controller status: %w", err)
	}
	return spc.ParseControllerStatus(resp.Body), nil
}
