// Package slot holds the domain types shared by the polling engine:
// subscriptions, upstream offers and the category catalog.
package slot
