package domain

import (
	"context"
	"fmt"
	"net/netip"
	"slices"
	"strconv"
	"strings"
)

var ruleTypes = []string{"ipv4", "ipv6"}

type ruleService struct {
	rules    RuleRepository
	renderer RuleRenderer
	notifier Notifier
}

// NewRuleService re-renders the rule vars after every mutation.
func NewRuleService(rules RuleRepository, renderer RuleRenderer, notifier Notifier) RuleService {
	return &ruleService{
		rules:    rules,
		renderer: renderer,
		notifier: notifierOrNop(notifier),
	}
}

func (s *ruleService) ListRules(ctx context.Context) ([]CustomRule, error) {
	return s.rules.List(ctx)
}

func (s *ruleService) CreateRule(ctx context.Context, actor Actor, input RuleInput) (CustomRule, error) {
	if !actor.Admin {
		return CustomRule{}, fmt.Errorf("%w: custom rules require admin", ErrUnauthorized)
	}
	rule, err := ruleFromInput(input)
	if err != nil {
		return CustomRule{}, err
	}
	created, err := s.rules.Create(ctx, rule)
	if err != nil {
		return CustomRule{}, err
	}
	if err := s.render(ctx); err != nil {
		return CustomRule{}, err
	}
	s.notifier.Emit(TopicCustomRuleAdded, created, Scope{Admins: true})
	return created, nil
}

func (s *ruleService) UpdateRule(ctx context.Context, actor Actor, id RuleID, input RuleInput) (CustomRule, error) {
	if !actor.Admin {
		return CustomRule{}, fmt.Errorf("%w: custom rules require admin", ErrUnauthorized)
	}
	if _, err := s.rules.FindByID(ctx, id); err != nil {
		return CustomRule{}, err
	}
	rule, err := ruleFromInput(input)
	if err != nil {
		return CustomRule{}, err
	}
	rule.ID = id
	updated, err := s.rules.Update(ctx, rule)
	if err != nil {
		return CustomRule{}, err
	}
	if err := s.render(ctx); err != nil {
		return CustomRule{}, err
	}
	s.notifier.Emit(TopicCustomRuleEdited, updated, Scope{Admins: true})
	return updated, nil
}

func (s *ruleService) DeleteRule(ctx context.Context, actor Actor, id RuleID) error {
	if !actor.Admin {
		return fmt.Errorf("%w: custom rules require admin", ErrUnauthorized)
	}
	deleted, err := s.rules.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	if err := s.render(ctx); err != nil {
		return err
	}
	s.notifier.Emit(TopicCustomRuleDeleted, map[string]RuleID{"id": id}, Scope{Admins: true})
	return nil
}

func (s *ruleService) render(ctx context.Context) error {
	if s.renderer == nil {
		return nil
	}
	rules, err := s.rules.List(ctx)
	if err != nil {
		return err
	}
	if err := s.renderer.RenderRules(rules); err != nil {
		return fmt.Errorf("render custom rules: %w", err)
	}
	return nil
}

func ruleFromInput(input RuleInput) (CustomRule, error) {
	rule := CustomRule{
		Title:    strings.TrimSpace(input.Title),
		Type:     strings.ToLower(strings.TrimSpace(input.Type)),
		Src:      strings.TrimSpace(input.Src),
		Dst:      strings.TrimSpace(input.Dst),
		Protocol: strings.ToLower(strings.TrimSpace(input.Protocol)),
		Port:     strings.TrimSpace(input.Port),
	}
	if rule.Title == "" {
		return CustomRule{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if !slices.Contains(ruleTypes, rule.Type) {
		return CustomRule{}, fmt.Errorf("%w: type must be ipv4 or ipv6", ErrInvalidInput)
	}
	for _, value := range []string{rule.Src, rule.Dst} {
		if value == "" {
			continue
		}
		prefix, err := netip.ParsePrefix(value)
		if err != nil {
			addr, addrErr := netip.ParseAddr(value)
			if addrErr != nil {
				return CustomRule{}, fmt.Errorf("%w: invalid address %q", ErrInvalidInput, value)
			}
			prefix = netip.PrefixFrom(addr, addr.BitLen())
		}
		if prefix.Addr().Is4() != (rule.Type == "ipv4") {
			return CustomRule{}, fmt.Errorf("%w: address %q does not match rule type", ErrInvalidInput, value)
		}
	}
	if rule.Protocol != "" && !slices.Contains(validProtocols, rule.Protocol) {
		return CustomRule{}, fmt.Errorf("%w: unsupported protocol %q", ErrInvalidInput, rule.Protocol)
	}
	if rule.Port != "" {
		port, err := strconv.Atoi(rule.Port)
		if err != nil || port < 1 || port > 65535 {
			return CustomRule{}, fmt.Errorf("%w: invalid port %q", ErrInvalidInput, rule.Port)
		}
	}
	return rule, nil
}
