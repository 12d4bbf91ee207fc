package api

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lemonberrylabs/ruleengine/pkg/store"
)

type ruleRequest struct {
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	Pattern     *string   `json:"pattern"`
	Actions     *[]string `json:"actions"`
	Tags        *[]string `json:"tags"`
	Enabled     *bool     `json:"enabled"`
}

func (s *Server) createRule(c *fiber.Ctx) error {
	var req ruleRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidArgument(fmt.Sprintf("invalid request body: %v", err))
	}
	name := req.Name
	if id := c.Query("ruleId"); id != "" {
		name = id
	}
	if name == "" {
		return invalidArgument("rule name is required")
	}
	if req.Pattern == nil || *req.Pattern == "" {
		return invalidArgument("pattern is required")
	}

	r := store.Rule{Name: name, Pattern: *req.Pattern, Enabled: true}
	if req.Description != nil {
		r.Description = *req.Description
	}
	if req.Actions != nil {
		r.Actions = *req.Actions
	}
	if req.Tags != nil {
		r.Tags = *req.Tags
	}
	if req.Enabled != nil {
		r.Enabled = *req.Enabled
	}

	created, err := s.store.CreateRule(r)
	if err != nil {
		return err
	}
	s.logger.Info("rule created", "rule", created.Name, "revision", created.RevisionID)
	return c.Status(fiber.StatusCreated).JSON(ruleToJSON(created))
}

func (s *Server) getRule(c *fiber.Ctx) error {
	r, err := s.store.GetRule(c.Params("rule"))
	if err != nil {
		return err
	}
	return c.JSON(ruleToJSON(r))
}

func (s *Server) listRules(c *fiber.Ctx) error {
	filter := store.ListFilter{Tag: c.Query("tag")}
	if v := c.Query("enabled"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return invalidArgument(fmt.Sprintf("invalid enabled filter %q", v))
		}
		filter.EnabledOnly = enabled
	}

	rules := s.store.ListRules(filter)
	items := make([]fiber.Map, len(rules))
	for i, r := range rules {
		items[i] = ruleToJSON(r)
	}
	return c.JSON(fiber.Map{"rules": items})
}

func (s *Server) updateRule(c *fiber.Ctx) error {
	var req ruleRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidArgument(fmt.Sprintf("invalid request body: %v", err))
	}
	if req.Name != "" && req.Name != c.Params("rule") {
		return invalidArgument("rule name cannot be changed")
	}

	r, err := s.store.UpdateRule(c.Params("rule"), store.Update{
		Description: req.Description,
		Pattern:     req.Pattern,
		Actions:     req.Actions,
		Tags:        req.Tags,
		Enabled:     req.Enabled,
	})
	if err != nil {
		return err
	}
	s.logger.Info("rule updated", "rule", r.Name, "revision", r.RevisionID)
	return c.JSON(ruleToJSON(r))
}

func (s *Server) deleteRule(c *fiber.Ctx) error {
	name := c.Params("rule")
	if err := s.store.DeleteRule(name); err != nil {
		return err
	}
	s.logger.Info("rule deleted", "rule", name)
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) ruleHistory(c *fiber.Ctx) error {
	revs, err := s.store.History(c.Params("rule"))
	if err != nil {
		return err
	}
	items := make([]fiber.Map, len(revs))
	for i, rev := range revs {
		items[i] = fiber.Map{
			"revisionId":  rev.RevisionID,
			"description": rev.Description,
			"pattern":     rev.Pattern,
			"actions":     nonNil(rev.Actions),
			"tags":        nonNil(rev.Tags),
			"enabled":     rev.Enabled,
			"createTime":  rev.CreateTime.Format(time.RFC3339),
		}
	}
	return c.JSON(fiber.Map{"revisions": items})
}

func ruleToJSON(r *store.Rule) fiber.Map {
	m := fiber.Map{
		"name":        r.Name,
		"description": r.Description,
		"pattern":     r.Pattern,
		"actions":     nonNil(r.Actions),
		"tags":        nonNil(r.Tags),
		"enabled":     r.Enabled,
		"revisionId":  r.RevisionID,
		"createTime":  r.CreateTime.Format(time.RFC3339),
		"updateTime":  r.UpdateTime.Format(time.RFC3339),
		"hits":        r.Hits,
	}
	if !r.LastHit.IsZero() {
		m["lastHit"] = r.LastHit.Format(time.RFC3339)
	}
	return m
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
